package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects the persistence backend: memory, sqlite, mysql or mongo.
type StorageConfig struct {
	Driver string       `yaml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Mongo  MongoConfig  `yaml:"mongo"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig enables the cross-process generation lock when Enabled is set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

// ModelConfig describes the text-generation backend.
type ModelConfig struct {
	Provider    string        `yaml:"provider"` // "openai" or "gemini"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	InitTimeout time.Duration `yaml:"init_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type EngineConfig struct {
	ExcerptChars      int           `yaml:"excerpt_chars"`
	MemoryWordLimit   int           `yaml:"memory_word_limit"`
	UnmatchedJudgment string        `yaml:"unmatched_judgment"` // "clarify" or "continue"
	SessionCacheSize  int           `yaml:"session_cache_size"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	SearchLimit       int           `yaml:"search_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if apiKey := firstEnv("MODEL_API_KEY", "OPENAI_API_KEY"); apiKey != "" && c.Model.Provider != "gemini" {
		c.Model.APIKey = apiKey
	}
	if apiKey := firstEnv("MODEL_API_KEY", "GEMINI_API_KEY"); apiKey != "" && c.Model.Provider == "gemini" {
		c.Model.APIKey = apiKey
	}
	if apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY"); apiKey != "" {
		c.Embedding.APIKey = apiKey
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		c.Qdrant.APIKey = apiKey
	}
	if pw := os.Getenv("MYSQL_PASSWORD"); pw != "" {
		c.Storage.MySQL.Password = pw
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		c.Storage.Mongo.URI = uri
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	// chapters stream for minutes on local models
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Minute
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "data/rebirthrealm.db"
	}
	if c.Storage.MySQL.Port == 0 {
		c.Storage.MySQL.Port = 3306
	}
	if c.Storage.MySQL.MaxOpenConns == 0 {
		c.Storage.MySQL.MaxOpenConns = 10
	}
	if c.Storage.MySQL.MaxIdleConns == 0 {
		c.Storage.MySQL.MaxIdleConns = 5
	}
	if c.Storage.MySQL.ConnMaxLifetime == 0 {
		c.Storage.MySQL.ConnMaxLifetime = time.Hour
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "rebirthrealm"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "chapters"
	}
	if c.Qdrant.VectorSize == 0 {
		c.Qdrant.VectorSize = 1536
	}

	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.Model == "" {
		if c.Model.Provider == "gemini" {
			c.Model.Model = "gemini-1.5-flash"
		} else {
			c.Model.Model = "gpt-4o-mini"
		}
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.8
	}
	if c.Model.InitTimeout == 0 {
		c.Model.InitTimeout = 2 * time.Minute
	}
	if c.Model.MaxRetries == 0 {
		c.Model.MaxRetries = 3
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.Model.BaseURL
	}

	if c.Engine.ExcerptChars == 0 {
		c.Engine.ExcerptChars = 500
	}
	if c.Engine.MemoryWordLimit == 0 {
		c.Engine.MemoryWordLimit = 150
	}
	if c.Engine.UnmatchedJudgment == "" {
		c.Engine.UnmatchedJudgment = "clarify"
	}
	if c.Engine.SessionCacheSize == 0 {
		c.Engine.SessionCacheSize = 1024
	}
	if c.Engine.LockTTL == 0 {
		c.Engine.LockTTL = 10 * time.Minute
	}
	if c.Engine.SearchLimit == 0 {
		c.Engine.SearchLimit = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "mysql", "mongo":
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "mongo" && c.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required for the mongo driver")
	}
	if c.Storage.Driver == "mysql" && c.Storage.MySQL.Host == "" {
		return fmt.Errorf("storage.mysql.host is required for the mysql driver")
	}

	switch c.Model.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("invalid model.provider %q", c.Model.Provider)
	}
	if c.Model.Provider == "gemini" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for the gemini provider")
	}

	switch strings.ToLower(c.Engine.UnmatchedJudgment) {
	case "clarify", "continue":
	default:
		return fmt.Errorf("invalid engine.unmatched_judgment %q", c.Engine.UnmatchedJudgment)
	}
	if c.Engine.ExcerptChars < 0 || c.Engine.MemoryWordLimit < 1 {
		return fmt.Errorf("engine limits must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
