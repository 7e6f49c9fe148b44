package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"PivotPull/internal/domain/repository"
	"PivotPull/internal/handler/api"
	internalrepo "PivotPull/internal/repository"
	"PivotPull/internal/service/fmp"
	"PivotPull/internal/service/marketsmith"
	"PivotPull/internal/service/ratelimit"
	"PivotPull/internal/usecase"
	"PivotPull/pkg/cache"
	pkgch "PivotPull/pkg/clickhouse"
	"PivotPull/pkg/config"
	xhttp "PivotPull/pkg/http"
	pkgkafka "PivotPull/pkg/kafka"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/metrics"
	"PivotPull/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger creates the application logger from the log section. With a
// Kafka producer, warnings and errors are also aggregated onto the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("env", cfg.Environment))
	if producer == nil {
		return l, func() {}, nil
	}

	collector := applogger.NewCollector(applogger.CollectorConfig{
		Interval:       cfg.Kafka.Logs.FlushInterval,
		CountThreshold: cfg.Kafka.Logs.CountThreshold,
		Topic:          cfg.Kafka.Logs.Topic,
		Source:         cfg.Environment,
		Publisher:      producer,
	})
	return l.WithCollector(collector), collector.Close, nil
}

// ProvideRegistry creates the Prometheus registry served at /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideCache creates the provider response cache: in-memory, or an
// in-memory L1 in front of Redis when redis is enabled.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mem := cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.MarketSmith.CacheSize),
			cache.WithMemoryCleanup(cfg.MarketSmith.CacheCleanup),
			cache.WithMemoryTTL(cfg.MarketSmith.CacheTTL),
		)
		return mem, func() { _ = mem.Close() }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remote, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.Pool.Size, cfg.Redis.Pool.MinIdleConns, cfg.Redis.Pool.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	layered := cache.NewLayeredCache(remote,
		cache.WithLayeredMemory(cfg.Redis.L1Size, cfg.Redis.L1TTL),
		cache.WithLayeredCleanup(cfg.MarketSmith.CacheCleanup),
	)
	cleanup := func() {
		if err := layered.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}
	return layered, cleanup, nil
}

// ProvideClickHouseClient connects to ClickHouse when storage or prices use it; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, cfg.ClickHouse.ConnMaxLifetime),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if err := client.InitSchema(ctx, []string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	l.Info("clickhouse connected", applogger.String("database", client.Database()))
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideKafkaProducer creates a Kafka producer when kafka is enabled; otherwise it returns nil.
// Its cleanup runs after every user of the producer has flushed.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "kafka producer close error: %v\n", err)
		}
	}, nil
}

// ProvideDecisionPublisher publishes decisions to Kafka, or drops them when kafka is disabled.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.DecisionPublisher {
	if producer == nil {
		return internalrepo.NopDecisionPublisher{}
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.Topic)
}

// ProvidePatternStore selects the pattern store backend by storage.type.
func ProvidePatternStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.PatternStore, error) {
	switch cfg.Storage.Type {
	case "parquet":
		return internalrepo.NewParquetPatternStore(cfg.Storage.ParquetDir, l), nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("clickhouse storage requires a clickhouse client")
		}
		store := internalrepo.NewCHPatternStore(ch.DB(), ch.Database()+"."+cfg.Storage.Table, l)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ch.InitSchema(ctx, store.SchemaStatements()); err != nil {
			return nil, fmt.Errorf("pattern table: %w", err)
		}
		return store, nil
	default:
		return internalrepo.NewCSVPatternStore(cfg.Storage.CSVPath, l), nil
	}
}

// ProvidePriceSource selects where daily closes are read from.
func ProvidePriceSource(cfg *config.Config, ch *pkgch.Client) (repository.PriceSource, error) {
	if cfg.Prices.Source == "clickhouse" {
		if ch == nil {
			return nil, fmt.Errorf("clickhouse prices require a clickhouse client")
		}
		return internalrepo.NewCHPriceSource(ch.DB(), ch.Database()+"."+cfg.Prices.Table), nil
	}
	return internalrepo.NewCSVPriceSource(cfg.Prices.CSVDir), nil
}

// ProvidePatternSource creates the MarketSmith session client.
func ProvidePatternSource(cfg *config.Config, c cache.Service, m repository.Metrics, l *applogger.Logger) repository.PatternSource {
	ms := cfg.MarketSmith
	return marketsmith.New(
		marketsmith.Endpoints{
			LoginURL:             ms.LoginURL,
			HandleLoginURL:       ms.HandleLoginURL,
			UserInfoURL:          ms.UserInfoURL,
			SearchInstrumentsURL: ms.SearchInstrumentsURL,
			PatternsURL:          ms.PatternsURL,
		},
		marketsmith.Credentials{Username: ms.Username, Password: ms.Password, APIKey: ms.APIKey},
		marketsmith.WithTimeout(ms.Timeout),
		marketsmith.WithLogger(l.With(applogger.String("component", "marketsmith"))),
		marketsmith.WithRateLimit(ratelimit.New(), ms.RateCapacity, ms.RatePerSecond),
		marketsmith.WithCache(c, ms.CacheTTL),
		marketsmith.WithMetrics(m),
	)
}

// ProvidePatternFilter creates the cup-with-handle normalizer.
func ProvidePatternFilter(cfg *config.Config) repository.PatternFilter {
	return usecase.NewCupWithHandleFilter(cfg.Extract.PatternKey, cfg.Extract.PatternType)
}

// ProvideExtractor creates the extraction pipeline.
func ProvideExtractor(
	src repository.PatternSource,
	filter repository.PatternFilter,
	store repository.PatternStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Extractor {
	return usecase.NewExtractor(src, filter, store, m, l.With(applogger.String("component", "extractor")))
}

// ProvideBacktester creates the backtest harness from the backtest section.
func ProvideBacktester(
	prices repository.PriceSource,
	pub repository.DecisionPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.Backtester {
	bt := cfg.Backtest
	return usecase.NewBacktester(prices, pub, m, l.With(applogger.String("component", "backtest")), usecase.BacktestConfig{
		StartingCash: bt.StartingCash,
		HaltOnError:  bt.HaltOnError,
		Engine: usecase.EngineConfig{
			EntryWindowDays: bt.EntryWindowDays,
			DecayDays:       bt.DecayDays,
			TakeProfit:      bt.TakeProfit,
			StopLoss:        bt.StopLoss,
		},
	})
}

// ProvideConstituents creates the FMP constituents client.
func ProvideConstituents(cfg *config.Config, l *applogger.Logger) *fmp.Client {
	return fmp.New(cfg.FMP.APIKey, cfg.FMP.Timeout, l)
}

// ProvideHTTPHandler creates the Echo route handler for serve mode.
func ProvideHTTPHandler(l *applogger.Logger, x *usecase.Extractor, bt *usecase.Backtester) *api.PatternsEchoHandler {
	return api.NewPatternsEchoHandler(l, x, bt)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	x *usecase.Extractor,
	bt *usecase.Backtester,
	store repository.PatternStore,
	constituents *fmp.Client,
	h *api.PatternsEchoHandler,
	ch *pkgch.Client,
) *server.App {
	var checks []xhttp.HealthCheck
	if ch != nil {
		checks = append(checks, xhttp.HealthCheck{Name: "clickhouse", Check: ch.Health})
	}
	return server.New(cfg, l, reg, x, bt, store, constituents, h, checks...)
}
