package fluid

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// DefaultTableName - таблица набора для Fill, если имя не задано
const DefaultTableName = "Table"

// DataAdapter - до четырех команд одной таблицы: выборка и синхронизация
// добавленных, измененных и удаленных строк.
type DataAdapter struct {
	Select *Command
	Insert *Command
	Update *Command
	Delete *Command

	// TableMapping - таблица набора, которую заполняет Fill
	TableMapping string

	dialect dialect.Dialect
}

// NewDataAdapter создает пустой адаптер диалекта
func NewDataAdapter(d dialect.Dialect) *DataAdapter {
	return &DataAdapter{dialect: d}
}

// SelectCommand возвращает команду выборки
func (a *DataAdapter) SelectCommand() *Command {
	return a.Select
}

// MutationCommands возвращает созданные команды INSERT, UPDATE и DELETE
func (a *DataAdapter) MutationCommands() []*Command {
	var out []*Command
	for _, c := range []*Command{a.Insert, a.Update, a.Delete} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Fill выполняет выборку и загружает строки в таблицу набора.
// Отсутствующая таблица создается по колонкам результата.
func (a *DataAdapter) Fill(ctx context.Context, ds *dataset.DataSet, table string) (int, error) {
	if a.Select == nil {
		return 0, ErrNoSelectCommand
	}
	if table == "" {
		table = a.TableMapping
	}
	if table == "" {
		table = DefaultTableName
	}

	rows, err := a.Select.QueryContext(ctx)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	return fillTable(a.dialect, rows, ds, table)
}

// Execute выполняет команду выборки как команду без результата
func (a *DataAdapter) Execute(ctx context.Context) (int, error) {
	if a.Select == nil {
		return 0, ErrNoSelectCommand
	}
	n, err := a.Select.ExecContext(ctx)
	return int(n), err
}

// Sync применяет строки к БД командой, соответствующей состоянию строки,
// и возвращает суммарное число затронутых строк. Изменения строк не
// подтверждаются: это делает вызывающий после фиксации транзакции.
func (a *DataAdapter) Sync(ctx context.Context, rows []*dataset.Row) (int, error) {
	affected := 0
	for _, r := range rows {
		var cmd *Command
		switch r.State() {
		case dataset.Added:
			cmd = a.Insert
		case dataset.Modified:
			cmd = a.Update
		case dataset.Deleted:
			cmd = a.Delete
		default:
			continue
		}
		if cmd == nil {
			return affected, fmt.Errorf("%w: %s", ErrNoCommand, r.State())
		}
		n, err := a.applyRow(ctx, cmd, r)
		if err != nil {
			return affected, fmt.Errorf("failed to apply %s row: %w", r.State(), err)
		}
		affected += int(n)
	}
	return affected, nil
}

func (a *DataAdapter) applyRow(ctx context.Context, cmd *Command, r *dataset.Row) (int64, error) {
	if err := cmd.loadRow(r); err != nil {
		return 0, err
	}

	// SCOPE_IDENTITY() виден только в том же пакете, что и INSERT
	if r.State() == dataset.Added && cmd.ExtraSelect != "" && a.dialect.BatchesExtraSelect() {
		rows, err := cmd.query(ctx, cmd.FullText())
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		if err := refreshRow(a.dialect, rows, r); err != nil {
			return 0, err
		}
		return 1, nil
	}

	n, err := cmd.exec(ctx, cmd.Text)
	if err != nil || n == 0 || cmd.ExtraSelect == "" || r.State() == dataset.Deleted {
		return n, err
	}

	rows, err := cmd.query(ctx, cmd.ExtraSelect)
	if err != nil {
		return 0, fmt.Errorf("failed to re-select row: %w", err)
	}
	defer rows.Close()
	if err := refreshRow(a.dialect, rows, r); err != nil {
		return 0, err
	}
	return n, nil
}

// refreshRow переносит значения первой строки результата в текущие значения строки
func refreshRow(d dialect.Dialect, rows Rows, r *dataset.Row) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if !rows.Next() {
		return rows.Err()
	}
	raw, err := scanRow(rows, len(cols))
	if err != nil {
		return err
	}
	t := r.Table()
	for i, name := range cols {
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		if err := r.Set(c.Name, d.ScanValue(c.Kind, raw[i])); err != nil {
			return err
		}
	}
	return nil
}

func fillTable(d dialect.Dialect, rows Rows, ds *dataset.DataSet, name string) (int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	t, ok := ds.Table(name)
	if !ok {
		if t, err = ds.NewTable(name); err != nil {
			return 0, err
		}
	}

	var types []*sql.ColumnType
	if ct, ok := rows.(columnTyper); ok {
		if list, err := ct.ColumnTypes(); err == nil {
			types = list
		}
	}

	mapping := make([]*dataset.Column, len(cols))
	for i, colName := range cols {
		c, ok := t.Column(colName)
		if !ok {
			kind := dataset.KindAny
			if i < len(types) {
				kind = dataset.KindFromDatabaseType(types[i].DatabaseTypeName())
			}
			if c, err = t.AddColumn(colName, kind); err != nil {
				return 0, err
			}
			if i < len(types) {
				if nullable, ok := types[i].Nullable(); ok {
					c.AllowNull = nullable
				}
			}
		}
		mapping[i] = c
	}

	n := 0
	for rows.Next() {
		raw, err := scanRow(rows, len(cols))
		if err != nil {
			return n, err
		}
		values := make([]any, len(t.Columns()))
		for i, c := range mapping {
			values[c.Ordinal()] = d.ScanValue(c.Kind, raw[i])
		}
		if _, err := t.Load(values...); err != nil {
			return n, fmt.Errorf("failed to load row %d into %s: %w", n+1, t.Name, err)
		}
		n++
	}
	return n, rows.Err()
}

func scanRow(rows Rows, n int) ([]any, error) {
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return raw, nil
}
