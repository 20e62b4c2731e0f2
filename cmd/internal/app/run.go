package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given files (".env" when none) without overriding the
// process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Run is the server entrypoint used by `posrt serve`.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(ctx context.Context) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", slog.Any("err", err))
		return err
	}
	return a.Run(ctx)
}
