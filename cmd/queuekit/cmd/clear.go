package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear <queue>",
	Short: "Remove all envelopes from a queue",
	Long: `Clear removes every envelope from the given queue, including delayed
retries. This is destructive and cannot be undone; it refuses to run
without --force.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "confirm the destructive clear")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearForce {
		return errors.New("refusing to clear without --force")
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := newManager(logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer m.Close(ctx)

	n, err := m.Clear(ctx, args[0])
	if err != nil {
		return fmt.Errorf("clear queue %q: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d envelopes from queue %q\n", n, args[0])
	return nil
}
