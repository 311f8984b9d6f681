package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	Queue        QueueConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Dispatch     DispatchConfig
	Risk         RiskConfig
	Districts    DistrictsConfig
	Safety       SafetyConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	RateLimit int
}

type StoreConfig struct {
	Backend       string // sqlite | redis
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type QueueConfig struct {
	RetryCeiling int
}

type SyncConfig struct {
	Interval time.Duration
}

type ConnectivityConfig struct {
	Source        string // dial | api
	ProbeAddr     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Initial       models.ConnectivityState
}

type DispatchConfig struct {
	SMSURL       string
	EmailURL     string
	IncidentURL  string
	IncidentSink string // http | kafka
	KafkaBrokers []string
	KafkaTopic   string
	Timeout      time.Duration
}

type RiskConfig struct {
	APIURL         string
	Timeout        time.Duration
	RefreshWorkers int
	SeedFile       string // district overlay used until the first online refresh
}

type DistrictsConfig struct {
	File string
}

type SafetyConfig struct {
	File string // built-in set when empty
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	initial, ok := models.ParseConnectivityState(getEnv("CONNECTIVITY_INITIAL", "online"))
	if !ok {
		return nil, fmt.Errorf("invalid initial connectivity state: %s", os.Getenv("CONNECTIVITY_INITIAL"))
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvInt("SERVER_PORT", 8080),
			RateLimit: getEnvInt("RATE_LIMIT_RPS", 20),
		},
		Store: StoreConfig{
			Backend:       getEnv("STORE_BACKEND", "sqlite"),
			Path:          getEnv("DB_PATH", "./data/alert-relay.db"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPrefix:   getEnv("REDIS_PREFIX", "alert-relay:"),
		},
		Queue: QueueConfig{
			RetryCeiling: getEnvInt("QUEUE_RETRY_CEILING", 5),
		},
		Sync: SyncConfig{
			Interval: getEnvDuration("SYNC_INTERVAL", 60*time.Second),
		},
		Connectivity: ConnectivityConfig{
			Source:        getEnv("CONNECTIVITY_SOURCE", "dial"),
			ProbeAddr:     getEnv("CONNECTIVITY_PROBE_ADDR", "1.1.1.1:53"),
			ProbeInterval: getEnvDuration("CONNECTIVITY_PROBE_INTERVAL", 15*time.Second),
			ProbeTimeout:  getEnvDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
			Initial:       initial,
		},
		Dispatch: DispatchConfig{
			SMSURL:       getEnv("DISPATCH_SMS_URL", "http://localhost:8000/api/send-emergency-sms"),
			EmailURL:     getEnv("DISPATCH_EMAIL_URL", "http://localhost:8000/api/send-emergency-email"),
			IncidentURL:  getEnv("DISPATCH_INCIDENT_URL", "http://localhost:8000/api/incidents"),
			IncidentSink: getEnv("INCIDENT_SINK", "http"),
			KafkaBrokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:   getEnv("KAFKA_INCIDENT_TOPIC", "emergency-incidents"),
			Timeout:      getEnvDuration("DISPATCH_TIMEOUT", 10*time.Second),
		},
		Risk: RiskConfig{
			APIURL:         strings.TrimRight(getEnv("RISK_API_URL", "http://localhost:8000"), "/"),
			Timeout:        getEnvDuration("RISK_TIMEOUT", 10*time.Second),
			RefreshWorkers: getEnvInt("RISK_REFRESH_WORKERS", 4),
			SeedFile:       getEnv("DISTRICTS_RISK_SEED", ""),
		},
		Districts: DistrictsConfig{
			File: getEnv("DISTRICTS_FILE", ""),
		},
		Safety: SafetyConfig{
			File: getEnv("SAFETY_INSTRUCTIONS_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("rate limit must be at least 1 request per second")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Queue.RetryCeiling < 1 {
		return fmt.Errorf("retry ceiling must be at least 1")
	}
	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync interval must be at least 1 second")
	}

	switch c.Connectivity.Source {
	case "dial":
		if c.Connectivity.ProbeAddr == "" {
			return fmt.Errorf("CONNECTIVITY_PROBE_ADDR is required for the dial source")
		}
		if c.Connectivity.ProbeInterval < time.Second {
			return fmt.Errorf("connectivity probe interval must be at least 1 second")
		}
	case "api":
	default:
		return fmt.Errorf("invalid connectivity source: %s", c.Connectivity.Source)
	}

	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	switch c.Dispatch.IncidentSink {
	case "http":
	case "kafka":
		if len(c.Dispatch.KafkaBrokers) == 0 || c.Dispatch.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_INCIDENT_TOPIC are required for the kafka incident sink")
		}
	default:
		return fmt.Errorf("invalid incident sink: %s", c.Dispatch.IncidentSink)
	}

	if c.Risk.APIURL == "" {
		return fmt.Errorf("RISK_API_URL is required")
	}
	if c.Risk.RefreshWorkers < 1 {
		return fmt.Errorf("refresh workers must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList reads a comma-separated list, skipping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
