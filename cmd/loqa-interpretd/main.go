package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/audio/device"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		listDevices bool
		checkConfig bool
	)

	flag.StringVar(&configPath, "config", "loqa-interpret.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio input devices and exit")
	flag.BoolVar(&checkConfig, "check-config", false, "Validate the configuration and exit")
	flag.Parse()

	switch {
	case showVersion:
		fmt.Println(version)
		return
	case listDevices:
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger("info")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if checkConfig {
		fmt.Printf("%s: ok (%s -> %s, stt=%s translation=%s tts=%s)\n", configPath,
			cfg.Translation.SourceLang, cfg.Translation.DestLang, cfg.STT.Mode, cfg.Translation.Mode, cfg.TTS.Mode)
		return
	}
	logger = newLogger(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting loqa-interpretd", slog.String("version", version), slog.String("config", configPath))
	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newLogger builds the JSON process logger. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func printDevices() error {
	devices, err := device.ListInputDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s (%d ch, %.0f Hz)\n", marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return nil
}
