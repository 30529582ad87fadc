package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"VolCast/internal/scheduler"
	"VolCast/pkg/config"
	xhttp "VolCast/pkg/http"
	pkgkafka "VolCast/pkg/kafka"
	applogger "VolCast/pkg/logger"
	"VolCast/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	scheduler   *scheduler.Scheduler
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	jobs        *queue.RedisQueue
	closers     []closer
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler, sched *scheduler.Scheduler) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:         cfg,
		l:           l,
		httpHandler: handler,
		scheduler:   sched,
	}
}

// SetCandleConsumer attaches the Kafka consumer and its closed-candle handler.
func (a *App) SetCandleConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetJobConsumer attaches the Redis job workers.
func (a *App) SetJobConsumer(q *queue.RedisQueue) { a.jobs = q }

// AddCloser registers a resource released on shutdown, in reverse order.
func (a *App) AddCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		xhttp.WithLogger(a.l),
	)

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return fmt.Errorf("job queue: %w", err)
		}
	}

	if a.scheduler != nil && a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Register(); err != nil {
			return err
		}
		a.scheduler.Start()
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("volcast started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("symbol", a.cfg.Forecast.Symbol),
		applogger.String("model", a.cfg.Forecast.Model),
		applogger.String("store", a.cfg.Store.Driver),
	)

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.l.Info("shutting down...")

	// Stop accepting new work first
	if a.scheduler != nil && a.cfg.Scheduler.Enabled {
		a.scheduler.Stop()
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	// flush aggregated logs before the producer goes away
	a.l.RemoveCollector()

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
