package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ruslano69/fluidsql/pkg/audit"
	"github.com/ruslano69/fluidsql/pkg/clientctx"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/resilience"
)

// DefaultConfigPath - файл настроек, если --config не задан. Его отсутствие не ошибка.
const DefaultConfigPath = "fluidsql.yaml"

// Config - файл настроек fluidctl. Ключи clientctx.Properties лежат на верхнем уровне.
type Config struct {
	Properties clientctx.Properties   `yaml:"-"`
	Audit      AuditConfig            `yaml:"audit,omitempty"`
	Breaker    resilience.Config      `yaml:"breaker,omitempty"`
	Retry      resilience.RetryConfig `yaml:"retry,omitempty"`
	Metrics    MetricsConfig          `yaml:"metrics,omitempty"`
}

// AuditConfig - куда писать аудит вызовов Perform
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // minimal, standard, full
	Async   bool   `yaml:"async"`

	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	JSON       bool   `yaml:"json,omitempty"`

	Redis *audit.RedisConfig `yaml:"redis,omitempty"`

	// Table - таблица аудита в той же БД, что и данные
	Table string `yaml:"table,omitempty"`
}

// MetricsConfig - выгрузка метрик в textfile после выполнения команды
type MetricsConfig struct {
	File string `yaml:"file,omitempty"`
}

// LoadConfig читает настройки. Отсутствующий файл по умолчанию дает значения по умолчанию.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			data = nil
		} else {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig разбирает YAML поверх значений по умолчанию
func ParseConfig(data []byte) (*Config, error) {
	props, err := clientctx.ParseProperties(data)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Properties: *props}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Properties.Dialect == "" {
		cfg.Properties.Dialect = "sqlite"
	}
	return cfg, nil
}

// buildAudit собирает журнал аудита по настройкам. closers закрываются после журнала.
func buildAudit(cfg AuditConfig, d dialect.Dialect, connectionString string, user clientctx.User) (audit.Logger, []func() error, error) {
	if !cfg.Enabled {
		return audit.NewNullLogger(), nil, nil
	}
	level := audit.ParseLevel(cfg.Level)

	var appenders []audit.Appender
	var closers []func() error
	if cfg.File != "" {
		fa, err := audit.NewFileAppender(audit.FileAppenderConfig{
			FilePath:   cfg.File,
			MaxSize:    int64(cfg.MaxSizeMB) << 20,
			MaxBackups: cfg.MaxBackups,
			Level:      level,
			FormatJSON: cfg.JSON,
		})
		if err != nil {
			return nil, nil, err
		}
		appenders = append(appenders, fa)
	}
	if cfg.Redis != nil {
		rc := *cfg.Redis
		rc.Level = level
		appenders = append(appenders, audit.NewRedisAppender(rc))
	}
	if cfg.Table != "" {
		db, err := sql.Open(d.DriverName(), connectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: open database: %w", err)
		}
		da, err := audit.NewDatabaseAppender(audit.DatabaseAppenderConfig{
			DB:        db,
			Dialect:   d,
			TableName: cfg.Table,
			Level:     level,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		appenders = append(appenders, da)
		closers = append(closers, db.Close)
	}

	logger := audit.NewLogger(audit.LoggerConfig{
		AsyncMode:          cfg.Async,
		DefaultUser:        user.UserName,
		DefaultWorkStation: user.WorkStation,
		OnError: func(err error) {
			log.Warn().Err(err).Msg("audit appender failed")
		},
	}, appenders...)
	return logger, closers, nil
}

// breakerConfig добавляет журнал переключений предохранителя
func breakerConfig(cfg resilience.Config) resilience.Config {
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	return cfg
}

// buildRetryer - nil, если повторы не настроены
func buildRetryer(cfg resilience.RetryConfig) (*resilience.Retryer, error) {
	if cfg.MaxAttempts <= 1 {
		return nil, nil
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connection failed, retrying")
	}
	return resilience.NewRetryer(cfg)
}
