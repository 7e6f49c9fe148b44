//go:build wireinject
// +build wireinject

package di

import (
	"PivotPull/pkg/config"
	"PivotPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideDecisionPublisher,
		ProvidePatternStore,
		ProvidePriceSource,
		ProvidePatternSource,
		ProvideConstituents,

		// Use cases
		ProvidePatternFilter,
		ProvideExtractor,
		ProvideBacktester,

		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil, nil
}
