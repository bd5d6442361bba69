package config

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config — корневая структура конфигурации движка.
type Config struct {
	World    WorldConfig    `yaml:"world"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// WorldConfig — параметры ядра мира.
// Длина ребра чанка и диапазон света — конфигурационные константы,
// а не зашитые значения: формат сохранённых миров зависит от них.
type WorldConfig struct {
	ChunkEdge   int    `yaml:"chunk_edge"`   // Длина ребра чанка, степень двойки
	ChunkBudget int    `yaml:"chunk_budget"` // Бюджет резидентных чанков (0 — без лимита)
	Seed        int64  `yaml:"seed"`         // Сид генератора мира
	DataPath    string `yaml:"data_path"`    // Директория BadgerDB ("" — без персистентности)
}

// EventBusConfig — параметры шины событий.
// Пустой URL означает in-memory шину.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

// MetricsConfig — параметры экспорта Prometheus.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// GetMetricsPort возвращает порт метрик с приоритетом: config -> env -> default.
func (m *MetricsConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(m.Port, "VOXEL_METRICS_PORT", 2112)
}

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

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			ChunkEdge:   16,
			ChunkBudget: 256,
			Seed:        1,
			DataPath:    "data",
		},
		EventBus: EventBusConfig{
			Buffer: 4096,
		},
	}
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	if c.World.ChunkEdge <= 0 || bits.OnesCount(uint(c.World.ChunkEdge)) != 1 {
		return fmt.Errorf("world.chunk_edge должен быть степенью двойки, получено %d", c.World.ChunkEdge)
	}
	if c.World.ChunkBudget < 0 {
		return fmt.Errorf("world.chunk_budget не может быть отрицательным: %d", c.World.ChunkBudget)
	}
	if c.EventBus.Buffer < 0 {
		return fmt.Errorf("eventbus.buffer не может быть отрицательным: %d", c.EventBus.Buffer)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG; если и он
// пуст, возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
