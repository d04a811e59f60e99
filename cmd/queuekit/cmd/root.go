// Package cmd implements the queuekit command line interface: a worker
// runner plus the operational stats, clear, and serve commands.
//
// Applications embedding the CLI register their job types on Jobs
// before calling Execute. Configuration comes from flags, environment
// variables prefixed with QUEUEKIT_, or a queuekit.yaml file.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jevido/queuekit"
	"github.com/jevido/queuekit/mongodb"
	"github.com/jevido/queuekit/mysql"
)

var version = "0.1.0"

// Jobs is the registry served by the work command. Embedding
// applications populate it before calling Execute.
var Jobs = queuekit.NewRegistry()

var rootCmd = &cobra.Command{
	Use:           "queuekit",
	Short:         "Background job queue worker and operations",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("driver", "memory", "queue driver type (memory, mysql or mongodb)")
	rootCmd.PersistentFlags().String("dsn", "", "connection string for durable drivers")
	rootCmd.PersistentFlags().StringSlice("queues", []string{queuekit.DefaultQueue}, "queue names, in polling order")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = viper.BindPFlag("queues", rootCmd.PersistentFlags().Lookup("queues"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetConfigName("queuekit")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.queuekit")
	viper.SetEnvPrefix("queuekit")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // a missing config file is fine
}

// Execute runs the root command. Errors are printed to stderr and the
// process exits non-zero.
func Execute(ctx context.Context) {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the zap logger used by all commands.
func newLogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// zapPrintfLogger adapts a zap SugaredLogger to the queuekit.Logger
// interface.
type zapPrintfLogger struct {
	s *zap.SugaredLogger
}

func (l zapPrintfLogger) Printf(format string, v ...interface{}) {
	l.s.Infof(format, v...)
}

// newManager builds the queue manager from the configured driver type.
// An unknown driver type fails fast with queuekit.ErrUnknownDriver.
func newManager(logger *zap.Logger) (*queuekit.Manager, error) {
	driver := viper.GetString("driver")
	dsn := viper.GetString("dsn")

	var factory queuekit.DriverFactory
	switch driver {
	case "memory":
		factory = func(queue string) (queuekit.Driver, error) {
			return queuekit.NewInMemoryDriver(queue), nil
		}
	case "mysql", "database":
		if dsn == "" {
			return nil, fmt.Errorf("driver %q requires --dsn", driver)
		}
		factory = func(queue string) (queuekit.Driver, error) {
			return mysql.NewDriver(queue, dsn)
		}
	case "mongodb":
		if dsn == "" {
			return nil, fmt.Errorf("driver %q requires --dsn", driver)
		}
		factory = func(queue string) (queuekit.Driver, error) {
			return mongodb.NewDriver(queue, dsn)
		}
	default:
		return nil, fmt.Errorf("%w: %q", queuekit.ErrUnknownDriver, driver)
	}

	return queuekit.New(
		queuekit.SetLogger(zapPrintfLogger{s: logger.Sugar()}),
		queuekit.SetDriverFactory(factory),
	), nil
}
