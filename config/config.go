package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document QA agent.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	MaxSteps       int           `mapstructure:"max_steps"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains the external model endpoint configuration.
type LLMConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	ContextWindow int           `mapstructure:"context_window"`
	SafetyMargin  int           `mapstructure:"safety_margin"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig controls index construction and retrieval.
type RetrievalConfig struct {
	MaxChunkChars  int `mapstructure:"max_chunk_chars"`
	TextTopK       int `mapstructure:"text_top_k"`
	ImageTopK      int `mapstructure:"image_top_k"`
	DefaultHistory int `mapstructure:"default_history"`
}

// CacheConfig controls the local image cache.
type CacheConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxPreviewSide int    `mapstructure:"max_preview_side"`
}

// StorageConfig contains Postgres and object storage settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Object   ObjectConfig   `mapstructure:"object"`
}

// PostgresConfig describes the durable chat store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a connection string from either the URL or discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// ObjectConfig describes the S3-compatible artifact bucket.
type ObjectConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

// MemoryConfig controls the rolling conversation summary cache.
type MemoryConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks the parts of the configuration a run cannot start without.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set AIZOOMDOC_LLM_API_KEY)")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.ContextWindow <= 0 {
		return fmt.Errorf("llm.context_window must be > 0")
	}
	return nil
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_steps", 10)
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10041")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.context_window", 128000)
	viper.SetDefault("llm.safety_margin", 2048)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("retrieval.max_chunk_chars", 1800)
	viper.SetDefault("retrieval.text_top_k", 6)
	viper.SetDefault("retrieval.image_top_k", 4)
	viper.SetDefault("retrieval.default_history", 12)
	viper.SetDefault("cache.max_preview_side", 2000)
	viper.SetDefault("storage.object.url_expiry", "15m")
	viper.SetDefault("memory.ttl", "24h")
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("AIZOOMDOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; env and defaults may carry the whole config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}

	if config.Cache.Dir == "" {
		config.Cache.Dir = filepath.Join(os.TempDir(), "aizoomdoc-cache")
	}

	return &config
}
