package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	server "hotel_channel/internal/adapters/http_server"
	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/app"
	"hotel_channel/internal/bootstrap"
	"hotel_channel/internal/shared"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	stack, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer stack.Close()

	notifier := app.NewNotifier(stack.Queue, cfg.NotifyBuffer, cfg.NotifyWorkers)
	go func() {
		for err := range notifier.Errors() {
			log.Debug().Err(err).Msg("enqueue error observed")
		}
	}()

	// jobs
	flush := &app.Job{Name: "queue_flush", Interval: cfg.FlushInterval, Run: func(ctx context.Context) error {
		_, err := stack.Processor.Tick(ctx)
		return err
	}}
	if stack.Lock != nil {
		// a nil *Lock must not become a non-nil RunLock
		flush.Lock = stack.Lock
	}
	poll := &app.Job{Name: "reservation_poll", Interval: cfg.PollInterval, Run: func(ctx context.Context) error {
		_, err := stack.Reconciler.PollAll(ctx)
		return err
	}}
	purge := &app.Job{Name: "retention", Interval: cfg.PurgeInterval, Run: func(ctx context.Context) error {
		_, err := stack.Retention.Purge(ctx)
		return err
	}}
	sched := app.NewScheduler(flush, poll, purge)
	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	// http
	h := &server.Handlers{
		Conns:          stack.Registry,
		Reconciler:     stack.Reconciler,
		Notifier:       notifier,
		Logs:           stack.Repo,
		TriggerTimeout: 2 * time.Minute,
	}
	srv := server.New(cfg.HTTPTimeout)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(h)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	notifier.Close()
	h.Wait()
	<-schedDone
	log.Info().Msg("bye")
}
