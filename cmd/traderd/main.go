package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/apexalgo/ticktrader/internal/config"
	"github.com/apexalgo/ticktrader/internal/engine"
	"github.com/apexalgo/ticktrader/internal/logger"
	"github.com/apexalgo/ticktrader/internal/types"
	"github.com/apexalgo/ticktrader/internal/version"
)

// runAction loads the configuration, starts the engine, activates any
// sessions listed in the sessions file and blocks until SIGINT/SIGTERM.
func runAction(ctx context.Context, cmd *cli.Command) error {
	level, err := zapcore.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cmd.String("log-level"), err)
	}

	appLog, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return err
	}
	defer func() { _ = appLog.Sync() }()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, appLog)
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	if sessionsPath := cmd.String("sessions"); sessionsPath != "" {
		if err := activateFromFile(ctx, eng, appLog, sessionsPath); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLog.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return nil
}

// activateFromFile starts every session listed in a YAML activation file.
func activateFromFile(ctx context.Context, eng *engine.Engine, appLog *logger.Logger, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sessions file %s: %w", path, err)
	}

	var requests []types.ActivationRequest
	if err := yaml.Unmarshal(raw, &requests); err != nil {
		return fmt.Errorf("failed to parse sessions file %s: %w", path, err)
	}

	for _, req := range requests {
		if err := eng.Activate(ctx, req); err != nil {
			appLog.Warn("failed to activate session",
				zap.String("account_id", req.AccountID),
				zap.Error(err))
		}
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "traderd",
		Usage:   "Run the speculative trading session engine",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "sessions",
				Aliases: []string{"s"},
				Usage:   "Path to a YAML file of activation requests to start with",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Log level: debug, info, warn, error",
				Value:   "info",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
