package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Ingest struct {
		QueueSize     int           `yaml:"queue_size" default:"10000"`
		BatchMaxSize  int           `yaml:"batch_max_size" default:"1000"`
		BatchMaxDelay time.Duration `yaml:"batch_max_delay" default:"150ms"`
		WalDir        string        `yaml:"wal_dir" default:"data/wal"`
		WalSync       bool          `yaml:"wal_sync" default:"true"`
	} `yaml:"ingest"`
	Aggregator struct {
		Interval          time.Duration `yaml:"interval" default:"5s"`
		IndicatorLookback time.Duration `yaml:"indicator_lookback" default:"200m"`
	} `yaml:"aggregator"`
	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"marketpipe"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		TicksTable   string        `yaml:"ticks_table" default:"ticks_raw"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Host           string `yaml:"host" default:"localhost"`
		Port           int    `yaml:"port" default:"5432"`
		Database       string `yaml:"database" default:"marketpipe"`
		User           string `yaml:"user" default:"postgres"`
		Password       string `yaml:"password"`
		SSLMode        string `yaml:"ssl_mode" default:"disable"`
		CandlesTable   string `yaml:"candles_table" default:"market_data"`
		WatermarkTable string `yaml:"watermark_table" default:"ingest_watermark"`
		MaxOpenConns   int    `yaml:"max_open_conns" default:"10"`
		MaxIdleConns   int    `yaml:"max_idle_conns" default:"5"`
	} `yaml:"postgres"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		CandlesTopic string   `yaml:"candles_topic" default:"marketpipe.candles"`
		TicksTopic   string   `yaml:"ticks_topic" default:"marketpipe.ticks"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Consumer     struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"marketpipe"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Addr      string        `yaml:"addr" default:"localhost:6379"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		KeyPrefix string        `yaml:"key_prefix" default:"marketpipe"`
		TTL       time.Duration `yaml:"ttl" default:"5m"`
	} `yaml:"redis"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		APIKey         string        `yaml:"api_key"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"feed"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MARKETPIPE_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("MARKETPIPE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WAL_DIR"); v != "" {
		c.Ingest.WalDir = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("ingest.queue_size must be positive")
	}
	if c.Ingest.BatchMaxSize <= 0 {
		return fmt.Errorf("ingest.batch_max_size must be positive")
	}
	if c.Ingest.BatchMaxDelay <= 0 {
		return fmt.Errorf("ingest.batch_max_delay must be positive")
	}
	if c.Ingest.WalDir == "" {
		return fmt.Errorf("ingest.wal_dir is required")
	}
	if c.Aggregator.Interval <= 0 {
		return fmt.Errorf("aggregator.interval must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled {
		if c.Feed.APIKey == "" {
			return fmt.Errorf("feed.api_key is required when feed is enabled")
		}
		if len(c.Feed.Symbols) == 0 {
			return fmt.Errorf("feed.symbols cannot be empty when feed is enabled")
		}
	}
	return nil
}
