package config

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const settingsFileName = "settings.toml"

// Settings is the persisted subset of the configuration: values an operator
// sets once and keeps across runs. Environment variables override these.
type Settings struct {
	Host         string        `toml:"host"`
	Port         int           `toml:"port"`
	DBPath       string        `toml:"db_path,omitempty"`
	HistoryLimit int           `toml:"history_limit"`
	Agent        AgentSettings `toml:"agent"`
}

type AgentSettings struct {
	Endpoint      string `toml:"endpoint,omitempty"`
	Model         string `toml:"model,omitempty"`
	MaxIterations int    `toml:"max_iterations"`
}

type SettingsStore struct {
	dir string
}

func NewSettingsStore(dir string) *SettingsStore {
	return &SettingsStore{dir: dir}
}

// LoadOrInit reads settings.toml, creating it with defaults on first run.
func (s *SettingsStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(s.dir, settingsFileName)
	if b, err := os.ReadFile(path); err == nil {
		var settings Settings
		if err := toml.Unmarshal(b, &settings); err != nil {
			return Settings{}, err
		}
		return normalizeSettings(settings), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	settings := normalizeSettings(Settings{})
	if err := s.Save(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *SettingsStore) Save(settings Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, settingsFileName), normalizeSettings(settings))
}

func normalizeSettings(settings Settings) Settings {
	settings.Host = strings.TrimSpace(settings.Host)
	if settings.Host == "" {
		settings.Host = "127.0.0.1"
	}
	if settings.Port <= 0 {
		settings.Port = 8484
	}
	settings.DBPath = strings.TrimSpace(settings.DBPath)
	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = 50
	}
	settings.Agent.Endpoint = strings.TrimSpace(settings.Agent.Endpoint)
	settings.Agent.Model = strings.TrimSpace(settings.Agent.Model)
	if settings.Agent.MaxIterations <= 0 {
		settings.Agent.MaxIterations = 8
	}
	return settings
}

// ApplySettings fills config fields that the environment left at their
// defaults with persisted settings values.
func ApplySettings(cfg Config, settings Settings) Config {
	if os.Getenv("TASKFLOW_HOST") == "" && settings.Host != "" {
		cfg.Host = settings.Host
	}
	if os.Getenv("TASKFLOW_PORT") == "" && settings.Port > 0 {
		cfg.Port = settings.Port
	}
	if os.Getenv("TASKFLOW_DB_PATH") == "" && settings.DBPath != "" {
		cfg.DBPath = settings.DBPath
	}
	if os.Getenv("TASKFLOW_HISTORY_LIMIT") == "" && settings.HistoryLimit > 0 {
		cfg.HistoryLimit = settings.HistoryLimit
	}
	if cfg.OpenAIEndpoint == "" {
		cfg.OpenAIEndpoint = settings.Agent.Endpoint
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = settings.Agent.Model
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
