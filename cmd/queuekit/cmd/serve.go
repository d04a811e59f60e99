package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jevido/queuekit/ui/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve queue statistics over HTTP, websocket, and Prometheus",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:12345", "HTTP bind address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := newManager(logger)
	if err != nil {
		return err
	}
	defer m.Close(cmd.Context())

	logger.Info("monitoring server listening", zap.String("addr", serveAddr))
	return server.New(m, viper.GetStringSlice("queues")).Serve(serveAddr)
}
