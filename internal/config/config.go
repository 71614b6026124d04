// Package config — YAML-конфигурация сервера с приоритетом
// флаг -> файл -> переменная окружения -> дефолт.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	World    WorldConfig    `yaml:"world"`
	Storage  StorageConfig  `yaml:"storage"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port        int  `yaml:"port"`
	MetricsPort int  `yaml:"metrics_port"`
	RateLimit   bool `yaml:"rate_limit"` // серверная проверка темпа шагов, по умолчанию выключена
}

type WorldConfig struct {
	Directory string `yaml:"directory"`
	Generator string `yaml:"generator"`
	Seed      int64  `yaml:"seed"`
	// AutosaveSeconds — период фонового сохранения изменённых чанков.
	AutosaveSeconds int `yaml:"autosave_seconds"`
}

type StorageConfig struct {
	// Backend игроков: badger (по умолчанию), redis, maria, memory.
	PlayerBackend string `yaml:"player_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	MariaDSN      string `yaml:"maria_dsn"`
}

type EventBusConfig struct {
	// URL NATS для экспорта модификаций мира; пусто — экспорт выключен.
	URL          string `yaml:"url"`
	Subject      string `yaml:"subject"`
	UseGzipCompr bool   `yaml:"use_gzip_compression"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	ToFile bool   `yaml:"to_file"`
}

// GetPort возвращает игровой порт с поддержкой fallback значений
func (s *ServerConfig) GetPort() int {
	return getPortWithEnvFallback(s.Port, "GEMFALL_PORT", 8000)
}

// GetMetricsPort возвращает Prometheus порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "GEMFALL_METRICS_PORT", 2112)
}

// GetDirectory возвращает директорию мира с приоритетом config -> env -> default
func (w *WorldConfig) GetDirectory() string {
	if w.Directory != "" {
		return w.Directory
	}
	if dir := os.Getenv("GEMFALL_WORLD_DIR"); dir != "" {
		return dir
	}
	return "world"
}

// GetGenerator возвращает имя генератора ландшафта.
func (w *WorldConfig) GetGenerator() string {
	if w.Generator != "" {
		return w.Generator
	}
	return "noise"
}

// GetAutosaveSeconds возвращает период автосохранения.
func (w *WorldConfig) GetAutosaveSeconds() int {
	if w.AutosaveSeconds > 0 {
		return w.AutosaveSeconds
	}
	return 60
}

// GetPlayerBackend возвращает backend хранилища игроков.
func (s *StorageConfig) GetPlayerBackend() string {
	if s.PlayerBackend != "" {
		return s.PlayerBackend
	}
	return "badger"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV GEMFALL_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GEMFALL_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
