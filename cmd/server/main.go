package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"codecollab/internal/analysis"
	"codecollab/internal/api"
	"codecollab/internal/collab"
	"codecollab/internal/config"
	"codecollab/internal/recovery"
	"codecollab/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:  "codecollab-server",
		Usage: "real-time collaborative editing server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a .env file to load before reading the environment",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, overriding SERVER_HOST/SERVER_PORT",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "zerolog level (trace, debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger := newLogger(level)

	addr := cfg.Addr()
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	jaegerShutdown, err := telemetry.InitJaeger("codecollab", cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	analyzer := analysis.NewClient(cfg.AnalysisEndpoint)
	recoveryManager := recovery.NewManager(logger)

	server := collab.NewServer(cfg, logger, analyzer, recoveryManager)
	server.Start()

	wsHandler := collab.NewWSHandler(server, logger)
	router := api.SetupRoutes(server, wsHandler, logger)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http server forced to shut down")
	}

	server.Shutdown()
	logger.Info().Msg("shutdown complete")
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}
