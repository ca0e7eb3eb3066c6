package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketPipe/internal/usecase"
	pkgch "MarketPipe/pkg/clickhouse"
	"MarketPipe/pkg/config"
	xhttp "MarketPipe/pkg/http"
	pkgkafka "MarketPipe/pkg/kafka"
	applogger "MarketPipe/pkg/logger"
	pkgpg "MarketPipe/pkg/postgres"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	worker     *usecase.IngestWorker
	aggregator *usecase.TickAggregator
	collector  *usecase.FeedCollector
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	chClient   *pkgch.Client
	pgClient   *pkgpg.Client
	httpServer *xhttp.Server
	handler    xhttp.Handler
	closers    []func() error
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	worker *usecase.IngestWorker,
	aggregator *usecase.TickAggregator,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	pgClient *pkgpg.Client,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		worker:     worker,
		aggregator: aggregator,
		handler:    handler,
		chClient:   chClient,
		pgClient:   pgClient,
	}
}

// SetCollector wires an optional live feed collector.
func (a *App) SetCollector(c *usecase.FeedCollector) { a.collector = c }

// SetConsumer wires an optional Kafka tick consumer.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = h
}

// AddCloser registers a resource closed during shutdown.
func (a *App) AddCloser(fn func() error) { a.closers = append(a.closers, fn) }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ingest worker drains the queue until ctx is cancelled, then flushes
	// the in-flight batch
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(ctx)
	}()

	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		a.aggregator.Run(ctx)
	}()
	a.log.Info("aggregator started")

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("feed collector start error", applogger.Error(err))
		} else {
			a.log.Info("feed collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(cancel, workerDone, aggDone)
}

// shutdown stops producers first, then cancels the pipeline context so the
// worker can flush its in-flight batch before resources close.
func (a *App) shutdown(cancel context.CancelFunc, workerDone, aggDone chan struct{}) error {
	shutdownCtx, release := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer release()

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.log.Warn("feed collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	cancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		a.log.Warn("timed out waiting for ingest worker")
	}
	select {
	case <-aggDone:
	case <-shutdownCtx.Done():
		a.log.Warn("timed out waiting for aggregator")
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.log.Warn("resource close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.pgClient != nil {
		if err := a.pgClient.Close(); err != nil {
			a.log.Warn("postgres close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
