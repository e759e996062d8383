package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raterudder/fusionsolar/pkg/export"
	"github.com/raterudder/fusionsolar/pkg/fusion"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// init packages
	c := fusion.Configured()
	s := storage.Configured()
	opts := export.Configured()
	metricsFile := lflag.String("metrics-textfile", "", "Write client metrics in the Prometheus text format to this file on exit")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	err = run(ctx, c, s, opts)
	if *metricsFile != "" {
		if merr := prometheus.WriteToTextfile(*metricsFile, c.Registry()); merr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write metrics", slog.String("path", *metricsFile), slog.Any("error", merr))
		}
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "export failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "export finished")
}

func run(ctx context.Context, c *fusion.Client, s storage.SessionStore, opts *export.Options) error {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close session store", slog.Any("error", cerr))
		}
	}()

	export.RestoreSession(ctx, s, c)

	sinks, err := opts.Sinks(os.Stdout)
	if err != nil {
		return err
	}

	runErr := export.Run(ctx, c, opts, sinks)
	for _, sink := range sinks {
		if cerr := sink.Close(); cerr != nil {
			runErr = errors.Join(runErr, cerr)
		}
	}

	// the session is worth keeping even when the export failed part way
	if c.State() == fusion.StateAuthenticated {
		if serr := export.SaveSession(ctx, s, c); serr != nil {
			runErr = errors.Join(runErr, serr)
		}
	}
	return runErr
}
