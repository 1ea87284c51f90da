package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level - уровень детализации записи
type Level int

const (
	// LevelMinimal - без метаданных и списка таблиц
	LevelMinimal Level = iota

	// LevelStandard - без метаданных
	LevelStandard

	// LevelFull - все поля
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelStandard:
		return "standard"
	case LevelFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// ParseLevel - уровень по имени, неизвестное имя дает LevelStandard
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return LevelMinimal
	case "full":
		return LevelFull
	}
	return LevelStandard
}

// Operation - операция сервиса данных
type Operation string

const (
	OpPerform         Operation = "perform"
	OpMultiplePerform Operation = "multiple_perform"
	OpFill            Operation = "fill"
	OpExecute         Operation = "execute"
	OpSync            Operation = "sync"
	OpRun             Operation = "run"
)

// Status - результат операции
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusRolledBack - отказ без ошибки: откат по флагу или результату callback
	StatusRolledBack Status = "rolled_back"
)

// Entry - запись аудита
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	User        string `json:"user,omitempty"`
	WorkStation string `json:"work_station,omitempty"`

	// Dialect, DataSource, Database - куда ушли команды
	Dialect    string `json:"dialect,omitempty"`
	DataSource string `json:"data_source,omitempty"`
	Database   string `json:"database,omitempty"`

	// Tables - таблицы набора в порядке конфигураций
	Tables []string `json:"tables,omitempty"`

	RecordsAffected int64         `json:"records_affected,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry создает запись с новым ID и текущим временем
func NewEntry(operation Operation, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		Status:    status,
	}
}

func (e *Entry) WithUser(user, workStation string) *Entry {
	e.User = user
	e.WorkStation = workStation
	return e
}

func (e *Entry) WithDialect(name string) *Entry {
	e.Dialect = name
	return e
}

func (e *Entry) WithDataSource(dataSource, database string) *Entry {
	e.DataSource = dataSource
	e.Database = database
	return e
}

// WithTable добавляет таблицу, повторы пропускаются
func (e *Entry) WithTable(table string) *Entry {
	if table == "" {
		return e
	}
	for _, t := range e.Tables {
		if t == table {
			return e
		}
	}
	e.Tables = append(e.Tables, table)
	return e
}

func (e *Entry) WithRecordsAffected(count int64) *Entry {
	e.RecordsAffected = count
	return e
}

func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError - ошибка переводит запись в StatusFailure
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.ErrorMessage = err.Error()
		e.Status = StatusFailure
	}
	return e
}

func (e *Entry) WithStatus(s Status) *Entry {
	e.Status = s
	return e
}

func (e *Entry) WithMetadata(key string, value any) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Entry) String() string {
	s := fmt.Sprintf("[%s] %s %s %s@%s (dialect=%s, source=%s, tables=%s, records=%d, duration=%v)",
		e.Timestamp.Format(time.RFC3339),
		e.Operation,
		e.Status,
		e.User,
		e.WorkStation,
		e.Dialect,
		e.DataSource,
		strings.Join(e.Tables, ","),
		e.RecordsAffected,
		e.Duration,
	)
	if e.ErrorMessage != "" {
		s += ": " + e.ErrorMessage
	}
	return s
}

// Clone копирует запись вместе со списком таблиц и метаданными
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.Tables = append([]string(nil), e.Tables...)
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// FilterByLevel возвращает копию без полей, не входящих в уровень
func (e *Entry) FilterByLevel(level Level) *Entry {
	filtered := e.Clone()
	switch level {
	case LevelMinimal:
		filtered.Metadata = nil
		filtered.Tables = nil
	case LevelStandard:
		filtered.Metadata = nil
	}
	return filtered
}
