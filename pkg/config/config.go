package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"dev" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	MarketSmith struct {
		LoginURL             string        `yaml:"login_url" default:"https://login.investors.com/accounts.login" validate:"omitempty,url"`
		HandleLoginURL       string        `yaml:"handle_login_url" validate:"omitempty,url"`
		UserInfoURL          string        `yaml:"user_info_url" validate:"omitempty,url"`
		SearchInstrumentsURL string        `yaml:"search_instruments_url" validate:"omitempty,url"`
		PatternsURL          string        `yaml:"patterns_url" validate:"omitempty,url"`
		Username             string        `yaml:"username"`
		Password             string        `yaml:"password"`
		APIKey               string        `yaml:"api_key"`
		Timeout              time.Duration `yaml:"timeout" default:"30s"`
		RateCapacity         float64       `yaml:"rate_capacity" default:"5" validate:"gt=0"`
		RatePerSecond        float64       `yaml:"rate_per_second" default:"1" validate:"gt=0"`
		CacheTTL             time.Duration `yaml:"cache_ttl" default:"1h"`
		CacheSize            int           `yaml:"cache_size" default:"1000" validate:"gte=1"`
		CacheCleanup         time.Duration `yaml:"cache_cleanup" default:"5m"`
	} `yaml:"marketsmith"`
	FMP struct {
		APIKey          string        `yaml:"api_key"`
		ConstituentsURL string        `yaml:"constituents_url" default:"https://financialmodelingprep.com/api/v3/dowjones_constituent" validate:"omitempty,url"`
		Timeout         time.Duration `yaml:"timeout" default:"15s"`
	} `yaml:"fmp"`
	Extract struct {
		Ticker      string `yaml:"ticker"`
		TickersFile string `yaml:"tickers_file" default:"data/tickers.csv"`
		Start       string `yaml:"start" default:"2015-01-01" validate:"datetime=2006-01-02"`
		End         string `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
		PatternKey  string `yaml:"pattern_key" default:"cupWithHandles" validate:"required"`
		PatternType int    `yaml:"pattern_type" default:"1"`
	} `yaml:"extract"`
	Storage struct {
		Type       string `yaml:"type" default:"csv" validate:"oneof=csv parquet clickhouse"`
		CSVPath    string `yaml:"csv_path" default:"data/patterns.csv"`
		ParquetDir string `yaml:"parquet_dir" default:"data/patterns"`
		Table      string `yaml:"table" default:"cup_with_handles"`
	} `yaml:"storage"`
	Prices struct {
		Source string `yaml:"source" default:"csv" validate:"oneof=csv clickhouse"`
		CSVDir string `yaml:"csv_dir" default:"data"`
		Table  string `yaml:"table" default:"daily_prices"`
	} `yaml:"prices"`
	Backtest struct {
		StartingCash    float64 `yaml:"starting_cash" default:"100000" validate:"gt=0"`
		HaltOnError     bool    `yaml:"halt_on_error" default:"true"`
		EntryWindowDays int     `yaml:"entry_window_days" default:"28" validate:"gte=1"`
		DecayDays       int     `yaml:"decay_days" default:"28" validate:"gte=1"`
		TakeProfit      float64 `yaml:"take_profit" default:"1.15" validate:"gt=1"`
		StopLoss        float64 `yaml:"stop_loss" default:"0.95" validate:"gt=0,lt=1"`
	} `yaml:"backtest"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"pivotpull.decisions"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Logs         struct {
			Topic          string        `yaml:"topic" default:"pivotpull.logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s" validate:"gt=0"`
			CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
		} `yaml:"logs"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"pivotpull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5" validate:"gte=0"`
		ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" default:"5m"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert" default:"true"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"pivotpull"`
		Pool     struct {
			Size         int           `yaml:"size" default:"10" validate:"gte=1"`
			MinIdleConns int           `yaml:"min_idle_conns" default:"2" validate:"gte=0"`
			Timeout      time.Duration `yaml:"timeout" default:"30s"`
		} `yaml:"pool"`
		L1Size int           `yaml:"l1_size" default:"1000" validate:"gte=1"`
		L1TTL  time.Duration `yaml:"l1_ttl" default:"1m"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Default returns a config populated only from struct-tag defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MS_USERNAME"); v != "" {
		c.MarketSmith.Username = v
	}
	if v := os.Getenv("MS_PASSWORD"); v != "" {
		c.MarketSmith.Password = v
	}
	if v := os.Getenv("MS_API_KEY"); v != "" {
		c.MarketSmith.APIKey = v
	}
	if v := os.Getenv("FMP_API_KEY"); v != "" {
		c.FMP.APIKey = v
	}
	if v := os.Getenv("TICKER"); v != "" {
		c.Extract.Ticker = v
	}
	if v := os.Getenv("STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
}

// Validate checks tag constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Extract.End != "" && c.Extract.End < c.Extract.Start {
		return fmt.Errorf("extract.end %s is before extract.start %s", c.Extract.End, c.Extract.Start)
	}
	return nil
}

// UsesClickHouse reports whether any component needs a ClickHouse connection.
func (c *Config) UsesClickHouse() bool {
	return c.Storage.Type == "clickhouse" || c.Prices.Source == "clickhouse"
}

// HasCredentials reports whether provider credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.MarketSmith.Username != "" && c.MarketSmith.Password != "" && c.MarketSmith.APIKey != ""
}
