// Command tarbot is the entry point for the triangular arbitrage bot. It
// loads configuration, validates it, sets up logging and signal handling,
// and runs the configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/tarbot/internal/app"
	"github.com/alanyoungcy/tarbot/internal/config"
	"github.com/alanyoungcy/tarbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (.toml or .yaml)")
	mode := flag.String("mode", "", "override the configured mode")
	sealTo := flag.String("seal-secret", "", "read an API secret and password from stdin, write the sealed secret file here and exit")
	flag.Parse()

	if *sealTo != "" {
		if err := sealSecret(os.Stdin, *sealTo); err != nil {
			fmt.Fprintf(os.Stderr, "seal secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Bootstrap logger until the configured one is built.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logOut := cfg.Log.Writer()
	defer logOut.Close()
	logger = cfg.Log.NewLogger(logOut)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("tarbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", cfg.Redacted()),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		logOut.Close()
		os.Exit(1)
	}
	logger.Info("tarbot stopped")
}

// sealSecret reads the secret and then the password, one per line, and
// writes the sealed file with owner-only permissions.
func sealSecret(in io.Reader, path string) error {
	sc := bufio.NewScanner(in)
	var lines []string
	for len(lines) < 2 && sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(lines) < 2 {
		return errors.New("expected the secret and the password on separate lines")
	}
	blob, err := crypto.EncryptSecret(lines[0], lines[1])
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
