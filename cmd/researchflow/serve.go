package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/researchflow/config"
	srv "github.com/mohammad-safakhou/researchflow/internal/server"
	"github.com/mohammad-safakhou/researchflow/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the research workflow HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tele, tracer, err := telemetry.Setup(ctx, cfg.Telemetry, "researchflow")
			if err != nil {
				return err
			}
			defer func() {
				if err := tele.Shutdown(context.Background()); err != nil {
					log.Printf("[TELEMETRY] shutdown: %v", err)
				}
			}()

			s, err := srv.New(ctx, cfg, tracer)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
