package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig - подключение и ключи Redis получателя
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"` // default "fluidsql:audit"
	TTL      time.Duration `yaml:"ttl"`    // время жизни последнего состояния, 0 = без TTL
	Level    Level         `yaml:"-"`
}

// RedisAppender публикует записи в Redis:
//
//	SET     <prefix>:<operation>:last  <JSON>  EX <ttl>  - последнее состояние для опроса
//	PUBLISH <prefix>                   <JSON>            - поток событий для подписчиков
type RedisAppender struct {
	client *redis.Client
	config RedisConfig
	owned  bool
}

// NewRedisAppender создает клиента по настройкам
func NewRedisAppender(config RedisConfig) *RedisAppender {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	a := NewRedisAppenderClient(client, config)
	a.owned = true
	return a
}

// NewRedisAppenderClient использует готового клиента, Close его не закрывает
func NewRedisAppenderClient(client *redis.Client, config RedisConfig) *RedisAppender {
	if config.Prefix == "" {
		config.Prefix = "fluidsql:audit"
	}
	return &RedisAppender{client: client, config: config}
}

// StateKey - ключ последнего состояния операции
func (a *RedisAppender) StateKey(op Operation) string {
	return fmt.Sprintf("%s:%s:last", a.config.Prefix, op)
}

// Channel - канал событий
func (a *RedisAppender) Channel() string {
	return a.config.Prefix
}

func (a *RedisAppender) Append(ctx context.Context, entry *Entry) error {
	payload, err := entry.FilterByLevel(a.config.Level).ToJSON()
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if err := a.client.Set(ctx, a.StateKey(entry.Operation), payload, a.config.TTL).Err(); err != nil {
		return fmt.Errorf("audit: redis SET failed: %w", err)
	}
	if err := a.client.Publish(ctx, a.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("audit: redis PUBLISH failed: %w", err)
	}
	return nil
}

func (a *RedisAppender) Close() error {
	if !a.owned {
		return nil
	}
	return a.client.Close()
}
