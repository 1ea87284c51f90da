// Package clientctx - настройки клиента по умолчанию: строка подключения,
// таймаут команд, порядок проходов Perform и пользователь для аудита.
//
// Сервис данных получает Properties явно (dataservice.WithProperties).
// SetDefault/Default - узкий доступ к значениям процесса, которые
// читаются один раз при создании сервиса.
package clientctx

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConnection - строка подключения, если в файле она не задана
const EnvConnection = "FLUIDSQL_CONNECTION"

// DefaultCommandTimeout - таймаут команды по умолчанию
const DefaultCommandTimeout = 30 * time.Second

var (
	ErrUnknownPerformOrder = errors.New("unknown perform order")
	ErrInvalidTimeout      = errors.New("command timeout must not be negative")
)

// PerformOrder - порядок двух проходов Perform
type PerformOrder int

const (
	// UpdateDelete - сначала вставки и изменения, затем удаления
	UpdateDelete PerformOrder = iota
	// DeleteUpdate - сначала удаления
	DeleteUpdate
)

func (o PerformOrder) String() string {
	if o == DeleteUpdate {
		return "delete_update"
	}
	return "update_delete"
}

// ParsePerformOrder понимает "update_delete" и "delete_update" (регистр и дефисы не важны)
func ParsePerformOrder(s string) (PerformOrder, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "update_delete", "updatedelete":
		return UpdateDelete, nil
	case "delete_update", "deleteupdate":
		return DeleteUpdate, nil
	}
	return UpdateDelete, fmt.Errorf("%w: %q", ErrUnknownPerformOrder, s)
}

func (o *PerformOrder) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParsePerformOrder(node.Value)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

func (o PerformOrder) MarshalYAML() (any, error) {
	return o.String(), nil
}

// Connection - подключение по умолчанию
type Connection struct {
	ConnectionString string        `yaml:"connection_string"`
	CommandTimeout   time.Duration `yaml:"command_timeout"` // default 30s, 0 = без таймаута
}

// User - кто работает с данными
type User struct {
	UserName    string `yaml:"user_name"`
	WorkStation string `yaml:"work_station"` // default: имя хоста
}

// Properties - настройки клиента
type Properties struct {
	Dialect      string       `yaml:"dialect"`
	Connection   Connection   `yaml:"connection"`
	PerformOrder PerformOrder `yaml:"perform_order"`
	User         User         `yaml:"user"`
}

// Defaults возвращает настройки по умолчанию
func Defaults() Properties {
	p := Properties{
		Connection:   Connection{CommandTimeout: DefaultCommandTimeout},
		PerformOrder: UpdateDelete,
	}
	if host, err := os.Hostname(); err == nil {
		p.User.WorkStation = host
	}
	return p
}

// LoadProperties читает YAML-файл поверх значений по умолчанию
func LoadProperties(path string) (*Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	p, err := ParseProperties(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return p, nil
}

// ParseProperties разбирает YAML. Пустая строка подключения берется из FLUIDSQL_CONNECTION.
func ParseProperties(data []byte) (*Properties, error) {
	p := Defaults()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Connection.ConnectionString == "" {
		p.Connection.ConnectionString = os.Getenv(EnvConnection)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate проверяет значения
func (p *Properties) Validate() error {
	if p.Connection.CommandTimeout < 0 {
		return fmt.Errorf("config: connection.command_timeout: %w", ErrInvalidTimeout)
	}
	if p.PerformOrder != UpdateDelete && p.PerformOrder != DeleteUpdate {
		return fmt.Errorf("config: perform_order: %w: %d", ErrUnknownPerformOrder, int(p.PerformOrder))
	}
	return nil
}

var current atomic.Pointer[Properties]

// SetDefault задает настройки процесса. Вызывается при старте.
func SetDefault(p Properties) {
	current.Store(&p)
}

// Default возвращает настройки процесса или Defaults(), если они не заданы
func Default() Properties {
	if p := current.Load(); p != nil {
		return *p
	}
	return Defaults()
}

// Reset сбрасывает настройки процесса
func Reset() {
	current.Store(nil)
}
