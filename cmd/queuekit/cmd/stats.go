package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statsCmd = &cobra.Command{
	Use:   "stats [queue...]",
	Short: "Show size, available, and delayed counts per queue",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
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

	queues := args
	if len(queues) == 0 {
		queues = viper.GetStringSlice("queues")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tSIZE\tAVAILABLE\tDELAYED")
	for _, queue := range queues {
		stats, err := m.Stats(ctx, queue)
		if err != nil {
			return fmt.Errorf("stats for queue %q: %w", queue, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", stats.Name, stats.Size, stats.Available, stats.Delayed)
	}
	return w.Flush()
}
