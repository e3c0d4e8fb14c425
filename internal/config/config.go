package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
// Порядок применения: значения по умолчанию -> YAML файл -> переменные окружения.
type Config struct {
	Client    ClientConfig    `yaml:"client" envPrefix:"TILESYNC_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"TILESYNC_LOG_"`
	Status    StatusConfig    `yaml:"status" envPrefix:"TILESYNC_STATUS_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TILESYNC_OTEL_"`
	Relay     RelayConfig     `yaml:"relay" envPrefix:"TILESYNC_RELAY_"`
	DevServer DevServerConfig `yaml:"devserver" envPrefix:"TILESYNC_DEVSERVER_"`
}

// ClientConfig параметры подключения и кеша клиента
type ClientConfig struct {
	Address   string `yaml:"address" env:"ADDR"`
	Transport string `yaml:"transport" env:"TRANSPORT"` // tcp | kcp
	Username  string `yaml:"username" env:"USERNAME"`
	Password  string `yaml:"password" env:"PASSWORD"`

	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`

	PollInterval    time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	ReadPollTimeout time.Duration `yaml:"read_poll_timeout" env:"READ_POLL_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	HeartbeatIdle   time.Duration `yaml:"heartbeat_idle" env:"HEARTBEAT_IDLE"`
	DialTimeout     time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	LoginTimeout    time.Duration `yaml:"login_timeout" env:"LOGIN_TIMEOUT"`
	LoadTimeout     time.Duration `yaml:"load_timeout" env:"LOAD_TIMEOUT"`
}

// LoggingConfig уровни и каталог логов
type LoggingConfig struct {
	ConsoleLevel string `yaml:"console_level" env:"CONSOLE_LEVEL"`
	FileLevel    string `yaml:"file_level" env:"FILE_LEVEL"`
	Dir          string `yaml:"dir" env:"DIR"`
}

// StatusConfig локальный HTTP эндпоинт состояния. Пустой Addr: выключен.
type StatusConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig OpenTelemetry (OTLP HTTP, endpoint берётся из OTEL_EXPORTER_OTLP_*)
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"` // доля корневых трейсов, 0..1
}

// RelayConfig ретрансляция уведомлений в NATS. Пустой URL: выключена.
type RelayConfig struct {
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
	// Stream имя JetStream стрима; пусто: обычный NATS publish
	Stream string `yaml:"stream" env:"STREAM"`
}

// DevServerConfig настройки локального сервера разработки
type DevServerConfig struct {
	Listen   string            `yaml:"listen" env:"LISTEN"`
	Width    uint16            `yaml:"width" env:"WIDTH"`   // в блоках
	Height   uint16            `yaml:"height" env:"HEIGHT"` // в блоках
	Seed     int64             `yaml:"seed" env:"SEED"`
	Accounts map[string]string `yaml:"accounts" env:"ACCOUNTS"` // имя -> пароль
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Address:         "localhost:2597",
			Transport:       "tcp",
			CacheSize:       1024,
			PollInterval:    10 * time.Millisecond,
			ReadPollTimeout: time.Millisecond,
			WriteTimeout:    10 * time.Second,
			HeartbeatIdle:   time.Minute,
			DialTimeout:     10 * time.Second,
			LoginTimeout:    15 * time.Second,
			LoadTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			ConsoleLevel: "INFO",
			FileLevel:    "DEBUG",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tilesync",
			SampleRatio: 1,
		},
		Relay: RelayConfig{
			SubjectPrefix: "tilesync.events",
		},
		DevServer: DevServerConfig{
			Listen: ":2597",
			Width:  768,
			Height: 512,
			Seed:   1,
		},
	}
}

// Load читает YAML файл конфигурации и применяет переменные окружения.
// Если path == "", пытается прочитать путь из ENV TILESYNC_CONFIG;
// без файла используются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TILESYNC_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	switch c.Client.Transport {
	case "tcp", "kcp":
	default:
		return fmt.Errorf("unsupported transport %q", c.Client.Transport)
	}
	if c.Client.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0, got %d", c.Client.CacheSize)
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Client.HeartbeatIdle <= 0 {
		return fmt.Errorf("heartbeat_idle must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be in [0,1], got %v", c.Telemetry.SampleRatio)
	}
	return nil
}
