package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/envconfig"
	"github.com/samcharles93/tether/internal/logger"
	"github.com/samcharles93/tether/internal/tensor"
)

var (
	modelPath  string
	modelsPath string
	dtypeName  string
	deviceName string
	deviceID   int64
	threads    int64
	logLevel   string
	logFormat  string
	debug      bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model directory (config.json + *.safetensors)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing model directories",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "model precision (f32, f16, bf16, f64)",
			Value:       "f32",
			Destination: &dtypeName,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "device type (auto, cpu, cuda, metal)",
			Value:       backend.Auto,
			Destination: &deviceName,
		},
		&cli.Int64Flag{
			Name:        "device-id",
			Usage:       "device ordinal",
			Destination: &deviceID,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "attention goroutines per forward pass (1 = calling goroutine)",
			Value:       1,
			Destination: &threads,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging builds the process logger and stores it in the context.
// TETHER_DEBUG and TETHER_LOG_LEVEL apply when no flag or config value does.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := LoadConfig()
	applyLogConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if !cmd.IsSet("log-level") && cfg.LogLevel == "" {
		level = envconfig.LogLevel()
	}
	if debug {
		level = slog.LevelDebug
	}
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, logger.For(format, os.Stderr, level)), nil
}

// placement resolves the dtype and device flags against this build.
func placement(f backend.Features) (tensor.DType, tensor.Device, error) {
	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return 0, tensor.Device{}, err
	}
	kind, err := f.Resolve(deviceName)
	if err != nil {
		return 0, tensor.Device{}, err
	}
	dev, err := tensor.ParseDevice(kind, int(deviceID))
	if err != nil {
		return 0, tensor.Device{}, err
	}
	return dtype, dev, nil
}

func newRuntime(ctx context.Context) *bridge.Runtime {
	return bridge.New(bridge.Config{
		Logger:  logger.FromContext(ctx),
		Threads: int(threads),
	})
}
