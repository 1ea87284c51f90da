// Package dataset - табличный контейнер в памяти с отслеживанием изменений строк.
//
// Каждая строка хранит текущую и исходную версии значений и состояние
// (Added, Modified, Deleted, Unchanged). Движок dataservice выбирает строки по
// состоянию и передает их адаптеру синхронизации; сам контейнер ничего не знает о БД.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTableNotFound   = errors.New("table does not exist in dataset")
	ErrDuplicateTable  = errors.New("table already exists in dataset")
	ErrColumnNotFound  = errors.New("column does not belong to table")
	ErrDuplicateColumn = errors.New("column already exists")
	ErrRowDeleted      = errors.New("row has been deleted")
	ErrRowDetached     = errors.New("row does not belong to a table")
	ErrNoOriginal      = errors.New("row has no original version")
	ErrValueCount      = errors.New("value count does not match column count")
	ErrUnknownKind     = errors.New("unknown value kind")
	ErrConversion      = errors.New("value conversion failed")
)

// DataSet - именованный набор таблиц
type DataSet struct {
	Name   string
	tables []*Table
}

// New создает пустой DataSet
func New(name string) *DataSet {
	return &DataSet{Name: name}
}

// AddTable добавляет таблицу. Имена таблиц сравниваются без учета регистра.
func (ds *DataSet) AddTable(t *Table) error {
	if _, ok := ds.Table(t.Name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTable, t.Name)
	}
	t.ds = ds
	ds.tables = append(ds.tables, t)
	return nil
}

// NewTable создает таблицу и сразу добавляет ее в набор
func (ds *DataSet) NewTable(name string) (*Table, error) {
	t := NewTable(name)
	if err := ds.AddTable(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Table ищет таблицу по имени
func (ds *DataSet) Table(name string) (*Table, bool) {
	for _, t := range ds.tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

// Contains проверяет наличие таблицы
func (ds *DataSet) Contains(name string) bool {
	_, ok := ds.Table(name)
	return ok
}

// Tables возвращает таблицы в порядке добавления
func (ds *DataSet) Tables() []*Table {
	out := make([]*Table, len(ds.tables))
	copy(out, ds.tables)
	return out
}

// HasChanges - есть ли в наборе неподтвержденные изменения
func (ds *DataSet) HasChanges() bool {
	for _, t := range ds.tables {
		if len(t.Select(Added|Modified|Deleted)) > 0 {
			return true
		}
	}
	return false
}

// AcceptChanges подтверждает изменения во всех таблицах
func (ds *DataSet) AcceptChanges() {
	for _, t := range ds.tables {
		t.AcceptChanges()
	}
}

// RejectChanges откатывает изменения во всех таблицах
func (ds *DataSet) RejectChanges() {
	for _, t := range ds.tables {
		t.RejectChanges()
	}
}
