package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onexay/pushwatch/internal/storage"
)

// StorageBackend enumerates supported persistence layers.
type StorageBackend string

const (
	// StorageBackendMemory keeps data in-process.
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendKeyDB persists data to KeyDB/Redis.
	StorageBackendKeyDB StorageBackend = "keydb"
)

// Config aggregates runtime configuration.
type Config struct {
	APIAddr     string
	TreesConfig string
	Storage     StorageConfig
	Retention   RetentionConfig
	Notify      NotifyConfig
	Log         LogConfig
}

// StorageConfig contains backend selection and nested settings.
type StorageConfig struct {
	Backend StorageBackend
	KeyDB   storage.Config
}

// RetentionConfig holds defaults for processed-log archival.
type RetentionConfig struct {
	ArchivePath  string
	HotPushLimit int
	HotDuration  time.Duration
}

// NotifyConfig controls push notifications. Notifications need the keydb
// backend; with the memory backend they are disabled.
type NotifyConfig struct {
	ChannelPrefix string
	Disabled      bool
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
func Load() Config {
	backend := StorageBackend(strings.ToLower(envDefault("STORAGE_BACKEND", string(StorageBackendMemory))))

	return Config{
		APIAddr:     envDefault("API_ADDR", ":8080"),
		TreesConfig: os.Getenv("TREES_CONFIG"),
		Storage: StorageConfig{
			Backend: backend,
			KeyDB: storage.Config{
				Addr:     os.Getenv("KEYDB_ADDR"),
				Username: os.Getenv("KEYDB_USERNAME"),
				Password: os.Getenv("KEYDB_PASSWORD"),
				Database: envInt("KEYDB_DB", 0),
			},
		},
		Retention: RetentionConfig{
			ArchivePath:  envDefault("RETENTION_ARCHIVE_PATH", "data/archive.db"),
			HotPushLimit: envInt("RETENTION_HOT_PUSH_LIMIT", 0),
			HotDuration:  envDuration("RETENTION_HOT_DURATION", 0),
		},
		Notify: NotifyConfig{
			ChannelPrefix: envDefault("NOTIFY_CHANNEL_PREFIX", "pushwatch"),
			Disabled:      envBool("NOTIFY_DISABLED", false),
		},
		Log: LogConfig{
			Level:  envDefault("LOG_LEVEL", "info"),
			Format: strings.ToLower(envDefault("LOG_FORMAT", "text")),
		},
	}
}

func envDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
