// Command dmbot is the entry point for the DMarket trading bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode. The encrypt-key
// subcommand encrypts an API secret for use with dmarket.encrypted_key_path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbhunter/dmarketbot/internal/app"
	"github.com/arbhunter/dmarketbot/internal/config"
	"github.com/arbhunter/dmarketbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		encryptKey(os.Args[2:])
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

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

	// Rebuild the logger with the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("dmarket bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("dmarket bot stopped")
}

// encryptKey reads a secret and password, writes the encrypted JSON blob to
// the output path, and prints the config snippet to use it.
func encryptKey(args []string) {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "secret.enc.json", "output path for the encrypted secret")
	fs.Parse(args)

	secret := os.Getenv("DMBOT_SECRET")
	password := os.Getenv("DMBOT_KEY_PASSWORD")
	if secret == "" || password == "" {
		fmt.Fprintln(os.Stderr, "encrypt-key: set DMBOT_SECRET and DMBOT_KEY_PASSWORD in the environment")
		os.Exit(1)
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "encrypt-key: write %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("encrypted secret written to %s\n", *out)
	fmt.Println("configure it with:")
	fmt.Printf("  [dmarket]\n  encrypted_key_path = %q\n", *out)
}
