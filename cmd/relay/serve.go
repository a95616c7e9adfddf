package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yansir/cc-relayer/internal/account"
	"github.com/yansir/cc-relayer/internal/config"
	"github.com/yansir/cc-relayer/internal/events"
	"github.com/yansir/cc-relayer/internal/server"
	"github.com/yansir/cc-relayer/internal/store"
	"github.com/yansir/cc-relayer/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay's HTTP front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logHandler := events.NewLogHandler(level, 1000)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("cc-relayer starting", "version", version)

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()
	slog.Info("database ready", "path", cfg.DBPath)

	crypto := account.NewCrypto(cfg.EncryptionKey)
	if _, err := crypto.DeriveKey("salt"); err != nil {
		return err
	}
	slog.Info("encryption key derived")

	tm := transport.NewManager(cfg)
	defer tm.Close()

	ring := events.NewRing(200)

	srv, err := server.New(cfg, s, crypto, tm, ring, logHandler, version)
	if err != nil {
		return err
	}
	return srv.Run()
}
