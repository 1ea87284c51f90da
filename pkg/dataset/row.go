package dataset

import (
	"fmt"
	"strings"
)

// RowState - состояние строки. Значения - битовые флаги, их можно
// объединять в маску для Table.Select.
type RowState uint8

const (
	Detached RowState = 1 << iota
	Unchanged
	Added
	Deleted
	Modified
)

// String - строковое представление
func (s RowState) String() string {
	var parts []string
	for _, st := range []RowState{Detached, Unchanged, Added, Deleted, Modified} {
		if s&st == 0 {
			continue
		}
		switch st {
		case Detached:
			parts = append(parts, "detached")
		case Unchanged:
			parts = append(parts, "unchanged")
		case Added:
			parts = append(parts, "added")
		case Deleted:
			parts = append(parts, "deleted")
		case Modified:
			parts = append(parts, "modified")
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
	return strings.Join(parts, "|")
}

// Version - версия значения строки
type Version int

const (
	Current Version = iota
	Original
)

// String - строковое представление
func (v Version) String() string {
	if v == Original {
		return "original"
	}
	return "current"
}

// Row - строка таблицы. nil в значении означает NULL.
type Row struct {
	table    *Table
	current  []any
	original []any
	state    RowState
}

// Table возвращает таблицу строки
func (r *Row) Table() *Table {
	return r.table
}

// State возвращает состояние строки
func (r *Row) State() RowState {
	return r.state
}

// Get возвращает текущее значение колонки; для удаленной строки - исходное.
// Неизвестная колонка дает nil.
func (r *Row) Get(column string) any {
	version := Current
	if r.state == Deleted {
		version = Original
	}
	v, err := r.Value(column, version)
	if err != nil {
		return nil
	}
	return v
}

// Value возвращает значение указанной версии
func (r *Row) Value(column string, version Version) (any, error) {
	c, ok := r.table.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, r.table.Name, column)
	}
	if version == Original {
		if r.original == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrNoOriginal, r.table.Name, column)
		}
		return r.original[c.ordinal], nil
	}
	if r.state == Deleted {
		return nil, fmt.Errorf("%w: %s.%s", ErrRowDeleted, r.table.Name, column)
	}
	return r.current[c.ordinal], nil
}

// IsNull - значение колонки равно NULL
func (r *Row) IsNull(column string) bool {
	return r.Get(column) == nil
}

// Set меняет текущее значение колонки с приведением к ее типу.
// Unchanged строка переходит в Modified, Added остается Added.
func (r *Row) Set(column string, value any) error {
	if r.state == Deleted {
		return fmt.Errorf("%w: %s.%s", ErrRowDeleted, r.table.Name, column)
	}
	c, ok := r.table.Column(column)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, r.table.Name, column)
	}
	v, err := Coerce(c.Kind, value)
	if err != nil {
		return fmt.Errorf("column %s: %w", c.Name, err)
	}
	r.current[c.ordinal] = v
	if r.state == Unchanged {
		r.state = Modified
	}
	return nil
}

// Delete помечает строку удаленной. Added строка сразу удаляется из таблицы.
func (r *Row) Delete() {
	switch r.state {
	case Added:
		r.table.remove(r)
	case Unchanged, Modified:
		r.state = Deleted
	}
}

// AcceptChanges фиксирует текущие значения как исходные
func (r *Row) AcceptChanges() {
	switch r.state {
	case Deleted:
		r.table.remove(r)
	case Added, Modified:
		r.accept()
	}
}

func (r *Row) accept() {
	r.original = cloneValues(r.current)
	r.state = Unchanged
}

// RejectChanges возвращает исходные значения
func (r *Row) RejectChanges() {
	switch r.state {
	case Added:
		r.table.remove(r)
	case Modified, Deleted:
		r.current = cloneValues(r.original)
		r.state = Unchanged
	}
}

// Values возвращает копию текущих значений в порядке колонок
func (r *Row) Values() []any {
	return cloneValues(r.current)
}
