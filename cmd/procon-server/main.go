package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nxpad/go-procon-server/internal/bluez"
	"github.com/nxpad/go-procon-server/internal/config"
	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/server"
	"github.com/nxpad/go-procon-server/internal/session"
	"github.com/nxpad/go-procon-server/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootCmd := &cobra.Command{
		Use:     "procon-server",
		Short:   "Pro Controller emulation server for Linux/BlueZ",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(ctx, cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.procon_server/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", "", "env file to load environment variables from (e.g., .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	// Server specific flags
	rootCmd.Flags().IntP("port", "p", 5680, "HTTP server port")
	rootCmd.Flags().StringSliceP("listen", "l", []string{}, "Listen addresses (default: all interfaces)")
	rootCmd.Flags().String("adapter", "", "Bluetooth adapter (hci0, MAC address or D-Bus path; default: first adapter)")
	rootCmd.Flags().String("reconnect-address", "", "Console address to reconnect to instead of waiting for a pairing")
	rootCmd.Flags().String("spoof-address", "", "MAC address to assign to the adapter before advertising")
	rootCmd.Flags().String("controller-alias", "Pro Controller", "Adapter alias presented to the console")
	rootCmd.Flags().String("device-class", "0x002508", "Bluetooth device class of the adapter")
	rootCmd.Flags().String("storage-path", "", "Storage path for saved macros (default: ./.procon_server)")
	rootCmd.Flags().Duration("tick-interval", 0, "Input transmission interval (default 1ms)")
	rootCmd.Flags().Duration("loop-pause", 0, "Pause between playback repetitions (default 5s)")

	return rootCmd.ExecuteContext(ctx)
}

func runServer(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	manager, err := bluez.NewManager(bluez.Options{
		AdapterHint: cfg.Bluetooth.Adapter,
		ServicePath: cfg.Bluetooth.ServicePath,
		OverrideDir: cfg.Bluetooth.OverrideDir,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to BlueZ: %w", err)
	}

	state := session.NewState()
	resolver := bluez.NewResolver(manager, cfg.Session.PollInterval)

	orch := session.New(session.Config{
		ReconnectAddress: cfg.Bluetooth.ReconnectAddress,
		SpoofAddress:     cfg.Bluetooth.SpoofAddress,
		Alias:            cfg.Controller.Alias,
		DeviceClass:      cfg.Controller.DeviceClass,
		TickInterval:     cfg.Session.TickInterval,
		LoopPause:        cfg.Session.LoopPause,
		RetryInterval:    cfg.Session.PollInterval,
	}, manager, resolver, session.NewL2CAPTransport(), state, log)

	macros := storage.NewMacroStore(cfg.Storage.Path, log)
	if err := macros.Start(); err != nil {
		return fmt.Errorf("failed to start macro storage: %w", err)
	}
	defer func() {
		if err := macros.Stop(); err != nil {
			log.Warn("failed to stop macro storage", logger.ErrorField(err))
		}
	}()

	srv := server.New(cfg, log, state, macros)
	srv.SetAdapterAddress(func() string {
		addr, err := manager.Address()
		if err != nil {
			return ""
		}
		return addr
	})
	orch.OnEvent(srv.EmitEvent)

	// The session owns the adapter; a fatal session error takes the whole
	// process down so it never serves HTTP for a dead controller.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- orch.Run(runCtx)
		cancel()
	}()

	serveErr := srv.Run(runCtx)
	cancel()

	if err := <-sessionErr; err != nil {
		return err
	}
	return serveErr
}

func setupLogger(levelStr, formatStr string) (*logger.Logger, error) {
	level, err := logger.ParseLogLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var format logger.LogFormat
	switch formatStr {
	case "console":
		format = logger.ConsoleFormat
	case "json":
		format = logger.JSONFormat
	default:
		return nil, fmt.Errorf("invalid log format: %s", formatStr)
	}

	return logger.New(logger.Config{
		Level:     level,
		Format:    format,
		UseColors: format == logger.ConsoleFormat,
	}), nil
}
