package di

import (
	"context"
	"fmt"
	"time"

	"MarketPipe/internal/domain/repository"
	"MarketPipe/internal/handler/api"
	internalrepo "MarketPipe/internal/repository"
	"MarketPipe/internal/service/feed"
	"MarketPipe/internal/usecase"
	pkgch "MarketPipe/pkg/clickhouse"
	"MarketPipe/pkg/config"
	xhttp "MarketPipe/pkg/http"
	pkgkafka "MarketPipe/pkg/kafka"
	applogger "MarketPipe/pkg/logger"
	"MarketPipe/pkg/metrics"
	pkgpg "MarketPipe/pkg/postgres"
	"MarketPipe/pkg/server"
	"MarketPipe/pkg/wal"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the raw
// tick table exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, table := cfg.ClickHouse.Database, cfg.ClickHouse.TicksTable
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			received_at DateTime64(3, 'UTC'),
			ts DateTime64(3, 'UTC'),
			symbol String,
			bid Nullable(Float64),
			ask Nullable(Float64),
			last Nullable(Float64),
			volume Nullable(Float64)
		) ENGINE = MergeTree ORDER BY (received_at, symbol, ts)`, db, table),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvidePostgresClient creates a Postgres client and ensures the candle and
// watermark tables exist.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(
		pkgpg.WithHost(cfg.Postgres.Host),
		pkgpg.WithPort(cfg.Postgres.Port),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts TIMESTAMPTZ NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			spread DOUBLE PRECISION,
			rsi DOUBLE PRECISION,
			macd DOUBLE PRECISION,
			macd_signal DOUBLE PRECISION,
			macd_hist DOUBLE PRECISION,
			atr DOUBLE PRECISION,
			bb_upper DOUBLE PRECISION,
			bb_middle DOUBLE PRECISION,
			bb_lower DOUBLE PRECISION,
			PRIMARY KEY (symbol, timeframe, ts)
		)`, cfg.Postgres.CandlesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, cfg.Postgres.WatermarkTable),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	return client, nil
}

// ProvideWal creates the write-ahead log writer.
func ProvideWal(cfg *config.Config) (*wal.Writer, error) {
	return wal.NewWriter(cfg.Ingest.WalDir, wal.WithSync(cfg.Ingest.WalSync))
}

// ProvideTickStore creates the ClickHouse raw tick store.
func ProvideTickStore(chClient *pkgch.Client, cfg *config.Config) repository.TickStore {
	table := cfg.ClickHouse.Database + "." + cfg.ClickHouse.TicksTable
	return internalrepo.NewClickHouseTickStore(chClient, table)
}

// ProvideCandleStore creates the Postgres candle store.
func ProvideCandleStore(pgClient *pkgpg.Client, cfg *config.Config, log *applogger.Logger) repository.CandleStore {
	store := internalrepo.NewPostgresCandleStore(pgClient, cfg.Postgres.CandlesTable)
	store.SetLogger(log)
	return store
}

// ProvideWatermarkStore creates the Postgres watermark store.
func ProvideWatermarkStore(pgClient *pkgpg.Client, cfg *config.Config) repository.WatermarkStore {
	return internalrepo.NewPostgresWatermarkStore(pgClient, cfg.Postgres.WatermarkTable)
}

// ProvideIngestWorker creates the batching ingest worker.
func ProvideIngestWorker(
	w *wal.Writer,
	ticks repository.TickStore,
	candles repository.CandleStore,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.IngestWorker {
	return usecase.NewIngestWorker(w, ticks, candles, m, log,
		usecase.WithQueueSize(cfg.Ingest.QueueSize),
		usecase.WithBatchMax(cfg.Ingest.BatchMaxSize),
		usecase.WithBatchDelay(cfg.Ingest.BatchMaxDelay),
	)
}

// ProvideLatestCache creates a Redis latest-candle cache, falling back to an
// in-process cache when Redis is disabled.
func ProvideLatestCache(cfg *config.Config) repository.LatestCache {
	if !cfg.Redis.Enabled {
		return internalrepo.NewMemoryLatestCache(cfg.Redis.TTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return internalrepo.NewRedisLatestCache(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
}

// ProvideCandlePublisher creates a Kafka candle publisher, or nil when Kafka
// is disabled.
func ProvideCandlePublisher(cfg *config.Config) (repository.CandlePublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaCandlePublisher(producer, cfg.Kafka.CandlesTopic), nil
}

// ProvideIndicatorCalculator creates the rolling indicator calculator.
func ProvideIndicatorCalculator(
	candles repository.CandleStore,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *usecase.IndicatorCalculator {
	return usecase.NewIndicatorCalculator(candles, m, log,
		usecase.WithLookback(cfg.Aggregator.IndicatorLookback),
	)
}

// ProvideTickAggregator creates the watermark-driven tick aggregator.
func ProvideTickAggregator(
	ticks repository.TickStore,
	candles repository.CandleStore,
	marks repository.WatermarkStore,
	m repository.Metrics,
	log *applogger.Logger,
	indic *usecase.IndicatorCalculator,
	publisher repository.CandlePublisher,
	cache repository.LatestCache,
	cfg *config.Config,
) *usecase.TickAggregator {
	opts := []usecase.AggregatorOption{
		usecase.WithInterval(cfg.Aggregator.Interval),
		usecase.WithIndicators(indic),
	}
	if publisher != nil {
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	if cache != nil {
		opts = append(opts, usecase.WithLatestCache(cache))
	}
	return usecase.NewTickAggregator(ticks, candles, marks, m, log, opts...)
}

// ProvideMarketQuery creates the candle query use case.
func ProvideMarketQuery(
	candles repository.CandleStore,
	cache repository.LatestCache,
	log *applogger.Logger,
) *usecase.MarketQuery {
	return usecase.NewMarketQuery(candles, cache, log)
}

// ProvideHTTPHandler creates the API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	worker *usecase.IngestWorker,
	query *usecase.MarketQuery,
	marks repository.WatermarkStore,
	ticks repository.TickStore,
	candles repository.CandleStore,
) xhttp.Handler {
	return api.NewMarketHandler(log, worker, query, marks, ticks, candles)
}

// ProvideApp creates the application server, wiring the optional feed
// collector and Kafka tick consumer from config.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	worker *usecase.IngestWorker,
	aggregator *usecase.TickAggregator,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	pgClient *pkgpg.Client,
	publisher repository.CandlePublisher,
	m repository.Metrics,
) (*server.App, error) {
	app := server.New(cfg, log, worker, aggregator, handler, chClient, pgClient)

	if publisher != nil {
		app.AddCloser(publisher.Close)
	}

	if cfg.Feed.Enabled {
		stream := feed.New(
			cfg.Feed.APIKey,
			cfg.Feed.WebSocketURL,
			cfg.Feed.Symbols,
			cfg.Feed.ReconnectDelay,
			cfg.Feed.PingInterval,
			log,
		)
		app.SetCollector(usecase.NewFeedCollector(stream, worker, m, log,
			usecase.WithRetryDelay(cfg.Feed.ReconnectDelay)))
	}

	if cfg.Kafka.Enabled && cfg.Kafka.Consumer.Enabled {
		consumer, err := pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
			pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		app.SetConsumer(consumer, usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, worker, m))
	}

	return app, nil
}
