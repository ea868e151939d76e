package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/legal-docstore/cmd/flags"
	"github.com/ruteri/legal-docstore/config"
	"github.com/ruteri/legal-docstore/db"
	"github.com/ruteri/legal-docstore/httpserver"
	"github.com/ruteri/legal-docstore/storage"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	EnvVars: []string{"LISTEN_ADDR"},
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
}

func main() {
	// .env must be loaded before flags read their environment variables.
	config.LoadDotEnv()

	appFlags := append([]cli.Flag{listenAddrFlag, flags.LogServiceFlagFn("docstore")}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.StorageFlags...)

	app := &cli.App{
		Name:  "docstore-server",
		Usage: "Serve case documents from CDN, block, local and database storage",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.StorageConfig(cCtx)
			if err != nil {
				logger.Error("Invalid storage configuration", "err", err)
				return err
			}

			if vaultSrc := flags.VaultSource(cCtx); vaultSrc.Enabled() {
				secrets, err := config.LoadVaultSecrets(cCtx.Context, vaultSrc)
				if err != nil {
					logger.Error("Failed to load storage secrets from Vault, continuing with flags only", "err", err)
				} else {
					applied := cfg.ApplySecrets(secrets)
					logger.Info("Loaded storage secrets from Vault", slog.Int("applied", len(applied)))
				}
			}

			var dbtx storage.DBTX
			if cfg.DatabaseURL != "" {
				if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
					logger.Error("Failed to migrate database, relational storage disabled", "err", err)
				} else if pool, err := db.Connect(cCtx.Context, cfg.DatabaseURL, logger); err != nil {
					logger.Error("Failed to connect to database, relational storage disabled", "err", err)
				} else {
					defer pool.Close()
					dbtx = pool
				}
			}

			router, err := storage.NewStorageBackendFactory(logger).CreateRouter(cfg, dbtx)
			if err != nil {
				logger.Error("Failed to create storage router", "err", err)
				return err
			}

			handler := httpserver.NewHandler(router, cfg.MaxFileSize, logger)
			srvCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
			server, err := httpserver.New(srvCfg, handler, cfg.RoutePrefix)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listenAddr", srvCfg.ListenAddr, "priority", cfg.Priority)
			server.RunInBackground()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
