package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "txreport/internal/log"
)

// ConfigFileEnv names the optional YAML file whose values act as defaults
// for the environment.
const ConfigFileEnv = "TXREPORT_CONFIG"

type Config struct {
	// HTTP Server
	Port           string
	RateLimitRPS   float64
	RateLimitBurst int

	// Backend selection
	DataBackend string
	SeedFile    string

	// SQLite
	SQLiteDBPath string

	// MongoDB
	MongoURI                    string
	MongoHost                   string
	MongoPort                   string
	MongoUser                   string
	MongoPassword               string
	MongoDBName                 string
	MongoAuthSource             string
	MongoServerSelectionTimeout time.Duration
	MongoTransactionsCollection string
	MongoSummaryCollection      string

	// Summaries
	SummaryBatchSize       int
	SummaryRebuildInterval time.Duration
	RebuildLockTTL         time.Duration

	// Report cache
	ReportCacheSize int
	ReportCacheTTL  time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Logging
	LogLevel           string
	LogFormat          string
	LogFile            string
	LogFileMaxSizeMB   int
	LogFileMaxBackups  int
	LogFileMaxAgeDays  int
	LogFileCompression bool
}

// Load reads the configuration from the environment, falling back to the
// YAML file named by TXREPORT_CONFIG and then to built-in defaults.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv(ConfigFileEnv); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	cfg := &Config{
		Port:           src.getEnv("PORT", "8080"),
		RateLimitRPS:   src.getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: src.getEnvInt("RATE_LIMIT_BURST", 40),

		DataBackend: src.getEnv("DATA_BACKEND", "memory"),
		SeedFile:    src.getEnv("SEED_FILE", ""),

		SQLiteDBPath: src.getEnv("SQLITE_DB_PATH", "./data/txreport.db"),

		MongoURI:                    src.getEnv("MONGO_URI", ""),
		MongoHost:                   src.getEnv("MONGO_HOST", src.getEnv("MONGO_DB_HOST", "localhost")),
		MongoPort:                   src.getEnv("MONGO_PORT", src.getEnv("MONGO_DB_PORT", "27017")),
		MongoUser:                   src.getEnv("MONGO_USER", src.getEnv("MONGO_DB_USERNAME", "")),
		MongoPassword:               src.getEnv("MONGO_PASS", src.getEnv("MONGO_DB_PASSWORD", "")),
		MongoDBName:                 src.getEnv("MONGO_DB_NAME", "zibal"),
		MongoAuthSource:             src.getEnv("MONGO_AUTH_SOURCE", "admin"),
		MongoServerSelectionTimeout: src.getEnvDuration("MONGO_SERVER_SELECTION_TIMEOUT", 10*time.Second),
		MongoTransactionsCollection: src.getEnv("MONGO_TRANSACTIONS_COLLECTION", "transaction"),
		MongoSummaryCollection:      src.getEnv("MONGO_SUMMARY_COLLECTION", "transaction_summary"),

		SummaryBatchSize:       src.getEnvInt("SUMMARY_BATCH_SIZE", 1000),
		SummaryRebuildInterval: src.getEnvDuration("SUMMARY_REBUILD_INTERVAL", time.Hour),
		RebuildLockTTL:         src.getEnvDuration("REBUILD_LOCK_TTL", 30*time.Minute),

		ReportCacheSize: src.getEnvInt("REPORT_CACHE_SIZE", 256),
		ReportCacheTTL:  src.getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),

		AMQPURL:      src.getEnv("AMQP_URL", ""),
		AMQPExchange: src.getEnv("AMQP_EXCHANGE", "txreport.summaries"),
		AMQPQueue:    src.getEnv("AMQP_QUEUE", "txreport.report-cache"),

		RedisAddress:  src.getEnv("REDIS_ADDRESS", ""),
		RedisPassword: src.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       src.getEnvInt("REDIS_DB", 0),

		LogLevel:           src.getEnv("LOG_LEVEL", "info"),
		LogFormat:          src.getEnv("LOG_FORMAT", "text"),
		LogFile:            src.getEnv("LOG_FILE", ""),
		LogFileMaxSizeMB:   src.getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
		LogFileMaxBackups:  src.getEnvInt("LOG_FILE_MAX_BACKUPS", 5),
		LogFileMaxAgeDays:  src.getEnvInt("LOG_FILE_MAX_AGE_DAYS", 28),
		LogFileCompression: src.getEnvBool("LOG_FILE_COMPRESS", true),
	}

	return cfg, nil
}

// MongoConnectionURI returns MONGO_URI when set, otherwise a URI built from
// the discrete settings with escaped credentials.
func (c *Config) MongoConnectionURI() string {
	if c.MongoURI != "" {
		return c.MongoURI
	}
	host := c.MongoHost + ":" + c.MongoPort
	if c.MongoUser != "" && c.MongoPassword != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s/%s?authSource=%s",
			url.QueryEscape(c.MongoUser), url.QueryEscape(c.MongoPassword),
			host, c.MongoDBName, url.QueryEscape(c.MongoAuthSource))
	}
	return fmt.Sprintf("mongodb://%s/%s", host, c.MongoDBName)
}

// LogOptions returns the logging settings for log.Setup.
func (c *Config) LogOptions() applog.Options {
	return applog.Options{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  c.LogFileMaxSizeMB,
		MaxBackups: c.LogFileMaxBackups,
		MaxAgeDays: c.LogFileMaxAgeDays,
		Compress:   c.LogFileCompression,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite", "mongo"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "mongo" {
		uri := c.MongoConnectionURI()
		if parsedURL, err := url.Parse(uri); err != nil {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI: %v", err))
		} else if parsedURL.Scheme != "mongodb" && parsedURL.Scheme != "mongodb+srv" {
			errors = append(errors, fmt.Sprintf("invalid MongoDB URI scheme '%s': must be 'mongodb' or 'mongodb+srv'", parsedURL.Scheme))
		}
		if c.MongoDBName == "" {
			errors = append(errors, "MongoDB database name cannot be empty when using mongo backend")
		}
		if c.MongoServerSelectionTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("invalid MongoDB server selection timeout %v: must be positive", c.MongoServerSelectionTimeout))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SummaryBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid summary batch size %d: must be at least 1", c.SummaryBatchSize))
	} else if c.SummaryBatchSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid summary batch size %d: must be at most 10000", c.SummaryBatchSize))
	}

	if c.SummaryRebuildInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rebuild interval %v: must be at least 1 minute", c.SummaryRebuildInterval))
	} else if c.SummaryRebuildInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rebuild interval %v: must be at most 7 days", c.SummaryRebuildInterval))
	}

	if c.RebuildLockTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rebuild lock TTL %v: must be at least 1 minute", c.RebuildLockTTL))
	}

	if c.ReportCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache size %d: must not be negative", c.ReportCacheSize))
	}
	if c.ReportCacheSize > 0 && c.ReportCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid report cache TTL %v: must be positive when caching is enabled", c.ReportCacheTTL))
	}

	if c.RateLimitRPS < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %v: must not be negative", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("invalid Redis DB %d: must not be negative", c.RedisDB))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getEnvInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getEnvFloat(key string, defaultValue float64) float64 {
	if value := s.lookup(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s source) getEnvBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
