package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/fluid"
)

// DatabaseAppenderConfig - настройки записи аудита в таблицу БД
type DatabaseAppenderConfig struct {
	DB      *sql.DB
	Dialect dialect.Dialect

	// TableName - таблица аудита, default "audit_log". Создается вызывающим.
	TableName string
	Level     Level

	// BatchSize - сколько записей копить до вставки, 0 или 1 - вставлять сразу
	BatchSize int
}

// DatabaseAppender вставляет записи командой INSERT, построенной fluid.Adapter
type DatabaseAppender struct {
	mu      sync.Mutex
	config  DatabaseAppenderConfig
	table   *dataset.Table
	adapter *fluid.Adapter
}

// auditColumns - схема таблицы аудита
var auditColumns = []struct {
	name string
	kind dataset.Kind
}{
	{"id", dataset.KindString},
	{"timestamp", dataset.KindDateTime},
	{"operation", dataset.KindString},
	{"status", dataset.KindString},
	{"user_name", dataset.KindString},
	{"work_station", dataset.KindString},
	{"dialect", dataset.KindString},
	{"data_source", dataset.KindString},
	{"database_name", dataset.KindString},
	{"tables", dataset.KindString},
	{"records_affected", dataset.KindInt64},
	{"duration_ms", dataset.KindInt64},
	{"error_message", dataset.KindString},
	{"metadata", dataset.KindString},
}

// NewDatabaseAppender строит команды для таблицы аудита
func NewDatabaseAppender(config DatabaseAppenderConfig) (*DatabaseAppender, error) {
	if config.DB == nil || config.Dialect == nil {
		return nil, fmt.Errorf("audit: database and dialect are required")
	}
	if config.TableName == "" {
		config.TableName = "audit_log"
	}

	t := dataset.NewTable(config.TableName)
	for _, c := range auditColumns {
		if _, err := t.AddColumn(c.name, c.kind); err != nil {
			return nil, err
		}
	}
	if err := t.SetPrimaryKey("id"); err != nil {
		return nil, err
	}

	// повторная выборка после INSERT аудиту не нужна
	a := fluid.New(config.Dialect).CreateUpdate(t)
	if err := a.Err(); err != nil {
		return nil, fmt.Errorf("audit: build insert: %w", err)
	}
	a.Insert.ExtraSelect = ""

	return &DatabaseAppender{config: config, table: t, adapter: a}, nil
}

func (da *DatabaseAppender) Append(ctx context.Context, entry *Entry) error {
	e := entry.FilterByLevel(da.config.Level)

	var metadata any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	da.mu.Lock()
	defer da.mu.Unlock()

	_, err := da.table.Add(
		e.ID, e.Timestamp, string(e.Operation), string(e.Status),
		nullString(e.User), nullString(e.WorkStation),
		nullString(e.Dialect), nullString(e.DataSource), nullString(e.Database),
		nullString(strings.Join(e.Tables, ",")),
		e.RecordsAffected, e.Duration.Milliseconds(),
		nullString(e.ErrorMessage), metadata,
	)
	if err != nil {
		return fmt.Errorf("audit: queue entry: %w", err)
	}
	if da.table.Len() < da.config.BatchSize {
		return nil
	}
	return da.flush(ctx)
}

// Pending - записи, ожидающие вставки
func (da *DatabaseAppender) Pending() int {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.table.Len()
}

func (da *DatabaseAppender) Flush() error {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.flush(context.Background())
}

// flush вставляет накопленные записи одной транзакцией
func (da *DatabaseAppender) flush(ctx context.Context) error {
	rows := da.table.Select(dataset.Added)
	if len(rows) == 0 {
		return nil
	}

	tx, err := da.config.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	da.adapter.Insert.Bind(fluid.SQLExecutor(tx), 0)
	defer da.adapter.Insert.Unbind()

	n, err := da.adapter.Sync(ctx, rows)
	if err == nil && n != len(rows) {
		err = fmt.Errorf("inserted %d of %d entries", n, len(rows))
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("audit: insert into %s: %w", da.config.TableName, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	da.table.Clear()
	return nil
}

func (da *DatabaseAppender) Close() error {
	return da.Flush()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
