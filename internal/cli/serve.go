package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bracken-sec/conmon/internal/app"
	"github.com/bracken-sec/conmon/internal/config"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and validation scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize application: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- application.Run()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sigCh:
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return application.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
