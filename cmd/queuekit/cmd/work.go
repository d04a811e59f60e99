package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jevido/queuekit"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a worker processing the configured queues",
	Long: `Work polls the configured queues in order and executes jobs one at a
time until interrupted. SIGINT and SIGTERM stop the worker
cooperatively: the job in flight finishes first.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().Duration("sleep", time.Second, "sleep interval between empty poll cycles")
	workCmd.Flags().Int("max-jobs", 0, "stop after this many processed jobs (0 = unbounded)")
	_ = viper.BindPFlag("sleep", workCmd.Flags().Lookup("sleep"))
	_ = viper.BindPFlag("max-jobs", workCmd.Flags().Lookup("max-jobs"))
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := newManager(logger)
	if err != nil {
		return err
	}
	defer m.Close(context.Background())

	queues := viper.GetStringSlice("queues")
	logger.Info("worker starting",
		zap.Strings("queues", queues),
		zap.Strings("types", Jobs.Types()),
	)

	w := queuekit.NewWorker(m, Jobs,
		queuekit.SetQueues(queues...),
		queuekit.SetSleepInterval(viper.GetDuration("sleep")),
		queuekit.SetMaxJobs(viper.GetInt("max-jobs")),
		queuekit.SetWorkerLogger(zapPrintfLogger{s: logger.Sugar()}),
	)

	// Shutdown is cooperative: the signal context triggers Stop, and
	// the loop exits once the in-flight job is done. The worker itself
	// runs on a background context so the current job is not cancelled
	// mid-flight.
	done := make(chan struct{})
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(done)
		return w.Run(context.Background())
	})
	g.Go(func() error {
		select {
		case <-cmd.Context().Done():
			w.Stop()
		case <-done:
		}
		return nil
	})
	err = g.Wait()

	logger.Info("worker stopped",
		zap.Int("processed", w.Processed()),
		zap.Int("failed", w.Failed()),
	)
	return err
}
