package dataset

import (
	"fmt"
	"reflect"
	"strings"
)

// Column - описание колонки таблицы
type Column struct {
	Name          string
	Kind          Kind
	AllowNull     bool
	AutoIncrement bool
	ordinal       int
}

// Ordinal - позиция колонки в таблице
func (c *Column) Ordinal() int {
	return c.ordinal
}

// Table - упорядоченный список колонок, необязательный первичный ключ и строки
type Table struct {
	Name       string
	columns    []*Column
	primaryKey []*Column
	rows       []*Row
	ds         *DataSet
}

// NewTable создает таблицу без колонок
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// DataSet возвращает набор, которому принадлежит таблица (nil для отдельной таблицы)
func (t *Table) DataSet() *DataSet {
	return t.ds
}

// AddColumn добавляет колонку. Новая колонка допускает NULL.
// Существующие строки получают NULL в новой колонке.
func (t *Table) AddColumn(name string, kind Kind) (*Column, error) {
	if _, ok := t.Column(name); ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, t.Name, name)
	}
	c := &Column{Name: name, Kind: kind, AllowNull: true, ordinal: len(t.columns)}
	t.columns = append(t.columns, c)
	for _, r := range t.rows {
		r.current = append(r.current, nil)
		if r.original != nil {
			r.original = append(r.original, nil)
		}
	}
	return c, nil
}

// MustColumn - AddColumn для построения схем в коде, паникует на дубликате
func (t *Table) MustColumn(name string, kind Kind) *Column {
	c, err := t.AddColumn(name, kind)
	if err != nil {
		panic(err)
	}
	return c
}

// Columns возвращает колонки в порядке объявления
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column ищет колонку по имени без учета регистра
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// SetPrimaryKey задает первичный ключ из одной или нескольких колонок
func (t *Table) SetPrimaryKey(names ...string) error {
	pk := make([]*Column, 0, len(names))
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, t.Name, name)
		}
		c.AllowNull = false
		pk = append(pk, c)
	}
	t.primaryKey = pk
	return nil
}

// PrimaryKey возвращает колонки первичного ключа
func (t *Table) PrimaryKey() []*Column {
	out := make([]*Column, len(t.primaryKey))
	copy(out, t.primaryKey)
	return out
}

// NewRow создает строку, еще не добавленную в таблицу
func (t *Table) NewRow() *Row {
	return &Row{table: t, current: make([]any, len(t.columns)), state: Detached}
}

// AddRow добавляет строку в состоянии Added
func (t *Table) AddRow(r *Row) error {
	if r.table != t || r.state != Detached {
		return fmt.Errorf("%w: row cannot be added to %s", ErrRowDetached, t.Name)
	}
	r.state = Added
	t.rows = append(t.rows, r)
	return nil
}

// Add создает строку из значений в порядке колонок и добавляет ее как Added
func (t *Table) Add(values ...any) (*Row, error) {
	r, err := t.rowFromValues(values)
	if err != nil {
		return nil, err
	}
	if err := t.AddRow(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Load добавляет строку в состоянии Unchanged (так строки приходят из БД).
// Если у таблицы есть первичный ключ и строка с таким ключом уже загружена,
// ее значения перезаписываются.
func (t *Table) Load(values ...any) (*Row, error) {
	r, err := t.rowFromValues(values)
	if err != nil {
		return nil, err
	}
	if existing := t.findByKey(r.current); existing != nil {
		existing.current = r.current
		existing.accept()
		return existing, nil
	}
	r.state = Unchanged
	r.original = cloneValues(r.current)
	t.rows = append(t.rows, r)
	return r, nil
}

func (t *Table) rowFromValues(values []any) (*Row, error) {
	if len(values) != len(t.columns) {
		return nil, fmt.Errorf("%w: %s has %d columns, got %d values",
			ErrValueCount, t.Name, len(t.columns), len(values))
	}
	r := t.NewRow()
	for i, c := range t.columns {
		v, err := Coerce(c.Kind, values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		r.current[i] = v
	}
	return r, nil
}

func (t *Table) findByKey(values []any) *Row {
	if len(t.primaryKey) == 0 {
		return nil
	}
	for _, r := range t.rows {
		if r.state == Added || r.state == Deleted {
			continue
		}
		match := true
		for _, c := range t.primaryKey {
			if !reflect.DeepEqual(r.current[c.ordinal], values[c.ordinal]) {
				match = false
				break
			}
		}
		if match {
			return r
		}
	}
	return nil
}

// Rows возвращает все строки таблицы, включая удаленные
func (t *Table) Rows() []*Row {
	out := make([]*Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len - количество строк
func (t *Table) Len() int {
	return len(t.rows)
}

// Select возвращает строки, состояние которых входит в маску
func (t *Table) Select(states RowState) []*Row {
	var out []*Row
	for _, r := range t.rows {
		if r.state&states != 0 {
			out = append(out, r)
		}
	}
	return out
}

// AcceptChanges подтверждает изменения всех строк
func (t *Table) AcceptChanges() {
	for _, r := range t.Rows() {
		r.AcceptChanges()
	}
}

// RejectChanges откатывает изменения всех строк
func (t *Table) RejectChanges() {
	for _, r := range t.Rows() {
		r.RejectChanges()
	}
}

// Clear удаляет все строки без отслеживания
func (t *Table) Clear() {
	for _, r := range t.rows {
		r.state = Detached
	}
	t.rows = nil
}

func (t *Table) remove(r *Row) {
	for i, x := range t.rows {
		if x == r {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
	r.state = Detached
}

func cloneValues(values []any) []any {
	out := make([]any, len(values))
	copy(out, values)
	return out
}
