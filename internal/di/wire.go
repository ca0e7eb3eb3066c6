//go:build wireinject
// +build wireinject

package di

import (
	"MarketPipe/pkg/config"
	"MarketPipe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresClient,
		ProvideWal,

		// Repositories
		ProvideTickStore,
		ProvideCandleStore,
		ProvideWatermarkStore,
		ProvideLatestCache,
		ProvideCandlePublisher,

		// Use cases
		ProvideIngestWorker,
		ProvideIndicatorCalculator,
		ProvideTickAggregator,
		ProvideMarketQuery,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
