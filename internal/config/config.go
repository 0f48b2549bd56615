// Package config resolves runtime configuration. Environment variables win;
// the TOML settings file supplies persisted defaults underneath them.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	Host         string
	Port         int
	DBPath       string
	LogLevel     string
	HistoryLimit int

	OpenAIEndpoint string
	OpenAIModel    string
	OpenAIAPIKey   string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

// LoadConfig reads the environment unconditionally and refreshes the cache.
func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

// GetConfig returns the cached config, re-reading the environment once the
// cache entry is older than cacheTTL.
func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	host := os.Getenv("TASKFLOW_HOST")
	if host == "" {
		host = "127.0.0.1"
	}

	port := 8484
	if p := os.Getenv("TASKFLOW_PORT"); p != "" {
		if n := atoiOrDefault(p, 8484); n > 0 {
			port = n
		}
	}

	dbPath := os.Getenv("TASKFLOW_DB_PATH")
	if dbPath == "" {
		dbPath = defaultDBPath()
	}

	level := os.Getenv("TASKFLOW_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	historyLimit := atoiOrDefault(os.Getenv("TASKFLOW_HISTORY_LIMIT"), 50)
	if historyLimit < 1 {
		historyLimit = 50
	}

	return Config{
		Host:           host,
		Port:           port,
		DBPath:         dbPath,
		LogLevel:       level,
		HistoryLimit:   historyLimit,
		OpenAIEndpoint: os.Getenv("OPENAI_ENDPOINT"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean("taskflow.db")
	}
	return filepath.Join(home, ".taskflow", "taskflow.db")
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
