// Package config loads the settings shared by the API server and the
// loader. Values come from defaults, an optional config file, an optional
// .env file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
	QueueKafka    = "kafka"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Search    SearchConfig    `mapstructure:"search"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type QueueConfig struct {
	Backend      string        `mapstructure:"backend"`
	Brokers      []string      `mapstructure:"brokers"`
	Partitions   int           `mapstructure:"partitions"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Topics       TopicsConfig  `mapstructure:"topics"`
	Groups       TopicsConfig  `mapstructure:"groups"`
}

// TopicsConfig names one value per stage; it is used for both topic and
// reader group names.
type TopicsConfig struct {
	Metadata string `mapstructure:"metadata"`
	Index    string `mapstructure:"index"`
	Status   string `mapstructure:"status"`
}

type WorkerConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	MaxDeliveries int           `mapstructure:"max_deliveries"`
	EmbedPoolSize int           `mapstructure:"embed_pool_size"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type EmbeddingConfig struct {
	URL        string        `mapstructure:"url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
	// Tokenizer names a tiktoken encoding; empty measures chunks in runes.
	Tokenizer string `mapstructure:"tokenizer"`
}

type SearchConfig struct {
	NumCandidates int `mapstructure:"num_candidates"`
}

type DocumentsConfig struct {
	OwnerID int64 `mapstructure:"owner_id"`
}

// WatchConfig drives the loader's inbox watcher.
type WatchConfig struct {
	Dir        string        `mapstructure:"dir"`
	ArchiveDir string        `mapstructure:"archive_dir"`
	BadDir     string        `mapstructure:"bad_dir"`
	SettleTime time.Duration `mapstructure:"settle_time"`
	Interval   time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("database.url", "")

	v.SetDefault("queue.backend", QueuePostgres)
	v.SetDefault("queue.brokers", []string{"localhost:9092"})
	v.SetDefault("queue.partitions", 3)
	v.SetDefault("queue.poll_interval", 200*time.Millisecond)
	v.SetDefault("queue.topics.metadata", "index.metadata")
	v.SetDefault("queue.topics.index", "index.chunks")
	v.SetDefault("queue.topics.status", "index.status")
	v.SetDefault("queue.groups.metadata", "metadata-agent")
	v.SetDefault("queue.groups.index", "index-agent")
	v.SetDefault("queue.groups.status", "status-agent")

	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.poll_timeout", time.Second)
	v.SetDefault("worker.idle_interval", 5*time.Second)
	v.SetDefault("worker.error_backoff", 5*time.Second)
	v.SetDefault("worker.max_deliveries", 5)
	v.SetDefault("worker.embed_pool_size", 4)
	v.SetDefault("worker.shutdown_grace", 5*time.Second)

	v.SetDefault("embedding.url", "http://localhost:11434/api/embeddings")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("chunking.size", 2048)
	v.SetDefault("chunking.overlap", 64)
	v.SetDefault("chunking.tokenizer", "")

	v.SetDefault("search.num_candidates", 100)
	v.SetDefault("documents.owner_id", 1)

	v.SetDefault("watch.dir", "./data/inbox")
	v.SetDefault("watch.archive_dir", "./data/archive")
	v.SetDefault("watch.bad_dir", "./data/bad")
	v.SetDefault("watch.settle_time", 5*time.Second)
	v.SetDefault("watch.interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	// .env is optional outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honours the variable names used by earlier deployments.
func applyLegacyEnv(cfg *Config) {
	if cfg.Database.URL == "" && os.Getenv("PG_HOST") != "" {
		port := os.Getenv("PG_PORT")
		if port == "" {
			port = "5432"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(os.Getenv("PG_USER"), os.Getenv("PG_PASS")),
			Host:     net.JoinHostPort(os.Getenv("PG_HOST"), port),
			Path:     "/" + os.Getenv("PG_DB_NAME"),
			RawQuery: "sslmode=disable",
		}
		cfg.Database.URL = u.String()
	}
	if s := os.Getenv("LOADER_SOURCE_DIR"); s != "" && os.Getenv("WATCH_DIR") == "" {
		cfg.Watch.Dir = s
	}
	if s := os.Getenv("OLLAMA_EMBEDDING_URL"); s != "" && os.Getenv("EMBEDDING_URL") == "" {
		cfg.Embedding.URL = s
	}
	if s := os.Getenv("OLLAMA_EMBEDDING_MODEL"); s != "" && os.Getenv("EMBEDDING_MODEL") == "" {
		cfg.Embedding.Model = s
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Queue.Backend {
	case QueueMemory, QueuePostgres:
	case QueueKafka:
		if len(c.Queue.Brokers) == 0 {
			errs = append(errs, errors.New("queue.brokers is required for the kafka backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	if c.Queue.Partitions < 1 {
		errs = append(errs, errors.New("queue.partitions must be at least 1"))
	}
	if c.Worker.BatchSize < 1 {
		errs = append(errs, errors.New("worker.batch_size must be at least 1"))
	}
	if c.Worker.PollTimeout <= 0 {
		errs = append(errs, errors.New("worker.poll_timeout must be positive"))
	}
	if c.Worker.MaxDeliveries < 0 {
		errs = append(errs, errors.New("worker.max_deliveries must not be negative"))
	}
	if c.Chunking.Size < 1 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, errors.New("chunking.overlap must be in [0, chunking.size)"))
	}
	if c.Watch.Interval <= 0 {
		errs = append(errs, errors.New("watch.interval must be positive"))
	}
	if c.Search.NumCandidates < 1 {
		errs = append(errs, errors.New("search.num_candidates must be at least 1"))
	}
	return errors.Join(errs...)
}

// RequireDatabase reports a missing database URL for commands that need one.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database.url (DATABASE_URL) is not set")
	}
	return nil
}
