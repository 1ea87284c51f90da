// Package dialect описывает лексические соглашения СУБД, которые нужны
// генератору команд и движку: квотирование идентификаторов, имена параметров,
// выражение последнего сгенерированного ключа и таблицу типов параметров.
//
// Конкретные диалекты живут в подпакетах и регистрируются в init():
//
//	import _ "github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
//
//	d, err := dialect.Lookup("sqlite")
package dialect

import (
	"fmt"
	"strings"

	"github.com/ruslano69/fluidsql/pkg/dataset"
)

// Hint - тип параметра в терминах драйвера
type Hint struct {
	NativeType string
	Size       int
	IsDefault  bool
}

// String - строковое представление
func (h Hint) String() string {
	if h.Size > 0 {
		return fmt.Sprintf("%s(%d)", h.NativeType, h.Size)
	}
	return h.NativeType
}

// Binding - способ передачи параметров драйверу
type Binding int

const (
	// BindNamed - sql.Named, имя без префикса
	BindNamed Binding = iota
	// BindQuestion - позиционные "?", значение повторяется для каждого вхождения
	BindQuestion
	// BindNumbered - позиционные "$n", повторное вхождение имени переиспользует номер
	BindNumbered
)

// Source - источник данных и база из строки подключения (только для сообщений об ошибках)
type Source struct {
	DataSource string
	Database   string
}

// String - "source(database)"
func (s Source) String() string {
	return fmt.Sprintf("%s(%s)", s.DataSource, s.Database)
}

// Dialect - набор соглашений одной СУБД
type Dialect interface {
	// Name - имя в реестре ("mssql", "mysql", ...)
	Name() string
	// DriverName - имя драйвера database/sql
	DriverName() string

	QuoteIdentifier(name string) string
	// ParameterPrefix - символ, с которого начинается параметр в тексте ("@", ":")
	ParameterPrefix() string
	// ParameterName - полное имя параметра колонки для версии значения
	ParameterName(column string, version dataset.Version) string
	// LastInsertID - выражение последнего сгенерированного ключа, "" если нет
	LastInsertID() string
	// BatchesExtraSelect - повторная выборка после INSERT должна идти тем же пакетом
	BatchesExtraSelect() bool
	// TableAlias - " AS a" или " a"
	TableAlias(alias string) string
	// ProcedureCall - текст вызова процедуры с параметрами в тексте
	ProcedureCall(name string, params []string) (string, error)
	// DefaultValuesInsert - INSERT без колонок
	DefaultValuesInsert(table string) string

	TypeHints() map[dataset.Kind]Hint
	Binding() Binding
	Placeholder(n int) string
	// DriverValue - последняя подстройка значения под драйвер (тип параметра по подсказке)
	DriverValue(h Hint, v any) any
	// ScanValue - подстройка значения, прочитанного драйвером, до приведения к Kind
	ScanValue(k dataset.Kind, v any) any

	Describe(connectionString string) Source
}

// QualifiedName квотирует имя таблицы, схема необязательна.
// Имя вида "schema.table" квотируется по частям.
func QualifiedName(d Dialect, schema, table string) string {
	parts := strings.Split(table, ".")
	if schema != "" {
		parts = append([]string{schema}, parts...)
	}
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// DefaultHint возвращает подсказку по умолчанию из таблицы диалекта
func DefaultHint(d Dialect) (Hint, bool) {
	for _, h := range d.TypeHints() {
		if h.IsDefault {
			return h, true
		}
	}
	return Hint{}, false
}
