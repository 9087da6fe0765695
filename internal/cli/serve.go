package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/b2bflash/crawler/internal/app"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and scraping engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Root())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}

		// mizu drains the listener on SIGINT/SIGTERM via the context.
		srv := server.New(a)
		err = srv.Listen(ctx, cfg.ListenAddr)

		// The listener is down; drain the batch and the job queue.
		log.Info().Msg("Draining engine")
		a.Shutdown(context.Background())
		return err
	},
}
