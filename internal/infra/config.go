package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub инвалидация кэша).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig — настройки Data Plane: кэш решений и аудит.
type EngineConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`          // TTL решения в кэше прав
	MaturityCacheTTL time.Duration `mapstructure:"maturity_cache_ttl"` // TTL резолва зрелости агента

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

// ScannerConfig управляет анализатором зависимостей.
type ScannerConfig struct {
	VulnTimeout time.Duration `mapstructure:"vuln_timeout"` // Таймаут advisory-инструментов
	TreeTimeout time.Duration `mapstructure:"tree_timeout"` // Таймаут интроспекции дерева

	// FailPolicy — судьба установки при degraded/failed скане:
	// "closed" — не удалось проверить, отказываем (дефолт);
	// "open"  — отсутствие находок трактуем как чистый результат.
	FailPolicy string `mapstructure:"fail_policy"`

	// BlockConflicts эскалирует конфликты версий из предупреждения в блокировку.
	BlockConflicts bool `mapstructure:"block_conflicts"`

	// BlockSeverity — минимальная серьезность находки, блокирующая установку.
	BlockSeverity string `mapstructure:"block_severity"`
}

// SandboxConfig — лимиты сборки и исполнения в изолированном окружении.
type SandboxConfig struct {
	BaseImage    string        `mapstructure:"base_image"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
	ExecTimeout  time.Duration `mapstructure:"exec_timeout"`

	// Жесткие потолки контейнера. Через API не ослабляются.
	MemoryLimit  string `mapstructure:"memory_limit"` // "512m"
	CPULimit     string `mapstructure:"cpu_limit"`    // "1.0"
	PidsLimit    int    `mapstructure:"pids_limit"`
	ScratchSize  string `mapstructure:"scratch_size"` // tmpfs для /workspace/scratch
	RuntimeBin   string `mapstructure:"runtime_bin"`  // docker или podman
	MaxBuildRate int    `mapstructure:"max_build_rate"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.Scanner.FailPolicy != "open" && cfg.Scanner.FailPolicy != "closed" {
		return nil, fmt.Errorf("scanner.fail_policy must be \"open\" or \"closed\", got %q", cfg.Scanner.FailPolicy)
	}

	// 6. Ключи из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.cache_ttl", 5*time.Minute)
	v.SetDefault("engine.maturity_cache_ttl", 30*time.Second)
	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)

	v.SetDefault("scanner.vuln_timeout", 2*time.Minute)
	v.SetDefault("scanner.tree_timeout", 30*time.Second)
	v.SetDefault("scanner.fail_policy", "closed")
	v.SetDefault("scanner.block_conflicts", false)
	v.SetDefault("scanner.block_severity", "low")

	v.SetDefault("sandbox.base_image", "python:3.12-slim")
	v.SetDefault("sandbox.build_timeout", 5*time.Minute)
	v.SetDefault("sandbox.exec_timeout", 60*time.Second)
	v.SetDefault("sandbox.memory_limit", "512m")
	v.SetDefault("sandbox.cpu_limit", "1.0")
	v.SetDefault("sandbox.pids_limit", 128)
	v.SetDefault("sandbox.scratch_size", "64m")
	v.SetDefault("sandbox.runtime_bin", "docker")
	v.SetDefault("sandbox.max_build_rate", 10)
}

// DataPlaneWriteTimeout — WriteTimeout HTTP-сервера Data Plane.
// Install и execute — синхронные конвейеры: скан + сборка образа либо
// исполнение в контейнере идут внутри одного запроса. WriteTimeout обязан
// переживать худший случай, иначе соединение будет разорвано до того, как
// структурированный ответ (build_failure, execution_timeout) дойдет до агента.
func (c *Config) DataPlaneWriteTimeout() time.Duration {
	pipeline := c.Scanner.VulnTimeout + c.Scanner.TreeTimeout + c.Sandbox.BuildTimeout
	if c.Sandbox.ExecTimeout > pipeline {
		pipeline = c.Sandbox.ExecTimeout
	}
	pipeline += 30 * time.Second // Запас на сериализацию ответа и очереди

	if c.Server.WriteTimeout > pipeline {
		return c.Server.WriteTimeout
	}
	return pipeline
}

// loadKeyResource — ключ либо прилетает напрямую в ENV (PEM), либо читается с диска.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
