package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/engine"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/routine"
	"github.com/gridhabit/gridhabit/pkg/server"
	"github.com/gridhabit/gridhabit/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	db, tel := storage.Configured()
	dev := device.Configured()

	// the engine and server share the executor so manual tests take the same
	// guarded path as automated actions
	eng := engine.New(db, tel, dev, dev)
	srv := server.Configured(db, eng.Executor(), routine.NewEvaluator(tel), dev)

	// parse flags
	lflag.Configure()

	if dev.Assistant != nil {
		eng.SetAssistant(dev.Assistant)
	}

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	// the first loop to fail or finish takes the process down
	err := <-errCh
	cancel()
	<-errCh
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "run failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
