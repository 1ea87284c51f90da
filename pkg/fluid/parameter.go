package fluid

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

type dbNull struct{}

func (dbNull) String() string { return "DBNull" }

// DBNull - значение SQL NULL в параметрах. Отличается от nil: nil в Go означает
// "значение не задано", DBNull - явный NULL, который уходит драйверу.
var DBNull any = dbNull{}

// IsNull - nil или DBNull
func IsNull(v any) bool {
	return v == nil || v == DBNull
}

// ParameterInfo - имя параметра и его значение
type ParameterInfo struct {
	Name  string
	Value any
}

// NewParameterInfo создает пару имя/значение, nil заменяется на DBNull
func NewParameterInfo(name string, value any) ParameterInfo {
	if value == nil {
		value = DBNull
	}
	return ParameterInfo{Name: name, Value: value}
}

// CreateWithDBNull дополнительно считает NULL "пустые" значения:
// пустую строку, нулевой GUID и нулевое время. Если указан kind, значение
// приводится к нему; неудачное приведение тоже дает DBNull.
func CreateWithDBNull(name string, value any, kind ...dataset.Kind) ParameterInfo {
	if isEmpty(value) {
		return ParameterInfo{Name: name, Value: DBNull}
	}
	if len(kind) > 0 {
		v, err := dataset.Coerce(kind[0], value)
		if err != nil || isEmpty(v) {
			return ParameterInfo{Name: name, Value: DBNull}
		}
		value = v
	}
	return ParameterInfo{Name: name, Value: value}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case dbNull:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case uuid.UUID:
		return x == uuid.Nil
	case time.Time:
		return x.IsZero()
	}
	return false
}

// Parameter - параметр команды
type Parameter struct {
	// Name - имя как в тексте команды, с префиксом диалекта
	Name string
	Kind dataset.Kind
	Hint dialect.Hint
	// SourceColumn - колонка таблицы, из которой берется значение при синхронизации
	SourceColumn string
	Version      dataset.Version
	Value        any
}

// driverValue - значение для database/sql
func (p *Parameter) driverValue(d dialect.Dialect) (any, error) {
	if IsNull(p.Value) {
		return nil, nil
	}
	v := p.Value
	if p.Kind != dataset.KindAny {
		coerced, err := dataset.Coerce(p.Kind, v)
		if err != nil {
			return nil, err
		}
		v = coerced
	}
	return d.DriverValue(p.Hint, v), nil
}
