package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Kind - тип значения колонки.
// Диалекты сопоставляют Kind с собственными типами параметров (см. dialect.Hint).
type Kind int

const (
	// KindAny - нетипизированная колонка, значение хранится как вернул драйвер
	KindAny Kind = iota
	KindString
	KindGUID
	KindInt32
	KindBool
	KindDateTime
	KindByte
	KindInt16
	KindInt64
	KindDecimal
	KindFloat64
	KindBytes
)

var kindNames = map[Kind]string{
	KindAny:      "any",
	KindString:   "string",
	KindGUID:     "guid",
	KindInt32:    "int32",
	KindBool:     "bool",
	KindDateTime: "datetime",
	KindByte:     "byte",
	KindInt16:    "int16",
	KindInt64:    "int64",
	KindDecimal:  "decimal",
	KindFloat64:  "float64",
	KindBytes:    "bytes",
}

// String - строковое представление
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseKind разбирает имя типа ("int32", "string", ...)
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	switch name {
	case "int", "integer":
		return KindInt32, nil
	case "uuid", "uniqueidentifier":
		return KindGUID, nil
	case "boolean":
		return KindBool, nil
	case "time", "timestamp", "date":
		return KindDateTime, nil
	case "double", "float":
		return KindFloat64, nil
	case "text", "varchar":
		return KindString, nil
	case "blob", "binary":
		return KindBytes, nil
	}
	return KindAny, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// KindOf определяет Kind по Go-значению.
// ok=false для nil и для типов без сопоставления.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case string:
		return KindString, true
	case uuid.UUID:
		return KindGUID, true
	case int32, int:
		return KindInt32, true
	case bool:
		return KindBool, true
	case time.Time:
		return KindDateTime, true
	case uint8:
		return KindByte, true
	case int16:
		return KindInt16, true
	case int64, uint32:
		return KindInt64, true
	case decimal.Decimal:
		return KindDecimal, true
	case float64, float32:
		return KindFloat64, true
	case []byte:
		return KindBytes, true
	}
	return KindAny, false
}

// KindFromDatabaseType сопоставляет имя типа из драйвера (sql.ColumnType.DatabaseTypeName)
// с Kind. Неизвестные имена дают KindAny.
func KindFromDatabaseType(name string) Kind {
	t := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "VARCHAR2", "NVARCHAR2", "TEXT", "NTEXT",
		"CLOB", "NCLOB", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT", "BPCHAR", "XML", "JSON":
		return KindString
	case "UNIQUEIDENTIFIER", "UUID":
		return KindGUID
	case "INT", "INT4", "INTEGER", "MEDIUMINT", "SERIAL":
		return KindInt32
	case "BIT", "BOOL", "BOOLEAN":
		return KindBool
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "TIMESTAMP", "TIMESTAMPTZ",
		"DATETIMEOFFSET", "TIMESTAMP WITH TIME ZONE":
		return KindDateTime
	case "TINYINT", "UNSIGNED TINYINT":
		return KindByte
	case "SMALLINT", "INT2":
		return KindInt16
	case "BIGINT", "INT8", "BIGSERIAL":
		return KindInt64
	case "DECIMAL", "NUMERIC", "NUMBER", "MONEY", "SMALLMONEY":
		return KindDecimal
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION", "BINARY_DOUBLE":
		return KindFloat64
	case "BLOB", "BYTEA", "VARBINARY", "BINARY", "IMAGE", "RAW", "LONGBLOB", "MEDIUMBLOB":
		return KindBytes
	}
	return KindAny
}

// Coerce приводит значение к типу колонки. nil остается nil (NULL).
func Coerce(k Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindAny:
		return v, nil
	case KindString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return cast.ToStringE(v)
	case KindGUID:
		return toGUID(v)
	case KindInt32:
		return cast.ToInt32E(v)
	case KindBool:
		if b, ok := v.([]byte); ok {
			return cast.ToBoolE(string(b))
		}
		return cast.ToBoolE(v)
	case KindDateTime:
		if b, ok := v.([]byte); ok {
			return cast.ToTimeE(string(b))
		}
		return cast.ToTimeE(v)
	case KindByte:
		return cast.ToUint8E(v)
	case KindInt16:
		return cast.ToInt16E(v)
	case KindInt64:
		if b, ok := v.([]byte); ok {
			return cast.ToInt64E(string(b))
		}
		return cast.ToInt64E(v)
	case KindDecimal:
		return toDecimal(v)
	case KindFloat64:
		if b, ok := v.([]byte); ok {
			return cast.ToFloat64E(string(b))
		}
		return cast.ToFloat64E(v)
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		case string:
			return []byte(b), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrConversion, v, k)
}

func toGUID(v any) (uuid.UUID, error) {
	switch g := v.(type) {
	case uuid.UUID:
		return g, nil
	case string:
		return uuid.Parse(g)
	case []byte:
		if len(g) == 16 {
			return uuid.FromBytes(g)
		}
		return uuid.ParseBytes(g)
	}
	return uuid.Nil, fmt.Errorf("%w: cannot convert %T to guid", ErrConversion, v)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case string:
		return decimal.NewFromString(d)
	case []byte:
		return decimal.NewFromString(string(d))
	case float64:
		return decimal.NewFromFloat(d), nil
	case float32:
		return decimal.NewFromFloat32(d), nil
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: cannot convert %T to decimal", ErrConversion, v)
	}
	return decimal.NewFromInt(i), nil
}
