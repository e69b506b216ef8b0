// Command bondledger is the entry point of the bond ledger service. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode. The -keygen flag creates an admin key
// instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/bondledger/internal/app"
	"github.com/alanyoungcy/bondledger/internal/config"
	"github.com/alanyoungcy/bondledger/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty to use defaults and env only)")
	keygen := flag.Bool("keygen", false, "generate an admin key and exit")
	keyOut := flag.String("key-out", "", "with -keygen, write the key encrypted to this path using BONDLEDGER_LEDGER_KEY_PASSWORD")
	flag.Parse()

	if *keygen {
		if err := generateKey(*keyOut); err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Bootstrap logger until the configured level and format are known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("bond ledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("bond ledger stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// generateKey prints a fresh admin address. With out set the key is stored
// encrypted, otherwise the raw hex key is printed for use as
// BONDLEDGER_LEDGER_PRIVATE_KEY.
func generateKey(out string) error {
	keyHex, addr, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Printf("address:     %s\nprivate_key: %s\n", addr.Hex(), keyHex)
		return nil
	}
	password := os.Getenv(config.EnvPrefix + "LEDGER_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("%sLEDGER_KEY_PASSWORD must be set to encrypt the key", config.EnvPrefix)
	}
	if err := crypto.WriteEncryptedKey(out, keyHex, password); err != nil {
		return err
	}
	fmt.Printf("address: %s\nkey written to %s\n", addr.Hex(), out)
	return nil
}
