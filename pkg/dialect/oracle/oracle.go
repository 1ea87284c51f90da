// Package oracle регистрирует диалект Oracle (драйвер godror).
//
// Идентификаторы и имена параметров приводятся к верхнему регистру,
// текущие значения - ":CUR_X", исходные - ":ORI_X". Выражения последнего
// сгенерированного ключа нет, поэтому после INSERT строки с identity
// повторная выборка не строится.
package oracle

import (
	"strings"

	"github.com/google/uuid"

	_ "github.com/godror/godror" // Oracle driver

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Name - ключ в реестре
const Name = "oracle"

// Dialect - диалект Oracle
type Dialect struct {
	dialect.Conventions
}

func init() {
	dialect.Register(New())
}

// New возвращает диалект Oracle
func New() *Dialect {
	return &Dialect{Conventions: dialect.Conventions{
		DialectName:     Name,
		Driver:          "godror",
		QuoteOpen:       `"`,
		QuoteClose:      `"`,
		Prefix:          ":",
		CurrentMarker:   "cur_",
		OriginalMarker:  "ori_",
		FoldUpper:       true,
		ProcedureFormat: "BEGIN %s(%s); END;",
		Bind:            dialect.BindNamed,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString:   {NativeType: "NVarchar2", IsDefault: true},
			dataset.KindGUID:     {NativeType: "Raw", Size: 16},
			dataset.KindInt32:    {NativeType: "Int32"},
			dataset.KindBool:     {NativeType: "Int16"},
			dataset.KindDateTime: {NativeType: "Date"},
			dataset.KindByte:     {NativeType: "Byte"},
			dataset.KindInt16:    {NativeType: "Int16"},
			dataset.KindInt64:    {NativeType: "Int64"},
			dataset.KindDecimal:  {NativeType: "Decimal"},
			dataset.KindFloat64:  {NativeType: "Double"},
			dataset.KindBytes:    {NativeType: "Blob"},
		},
	}}
}

// DriverValue: в Oracle нет BOOLEAN в SQL, GUID хранится как RAW(16)
func (d *Dialect) DriverValue(_ dialect.Hint, v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case uuid.UUID:
		return x[:]
	}
	return v
}

// DefaultValuesInsert - в Oracle нет DEFAULT VALUES
func (d *Dialect) DefaultValuesInsert(table string) string {
	return "INSERT INTO " + table + " VALUES (DEFAULT)"
}

// Describe разбирает "user/password@host:port/service" и
// `user="..." password="..." connectString="host:port/service"`
func (d *Dialect) Describe(connectionString string) dialect.Source {
	cs := strings.TrimSpace(connectionString)
	if i := strings.Index(cs, "connectString="); i >= 0 {
		rest := strings.Trim(cs[i+len("connectString="):], `"`)
		if j := strings.IndexAny(rest, `" `); j >= 0 {
			rest = rest[:j]
		}
		return splitConnect(rest)
	}
	if i := strings.LastIndexByte(cs, '@'); i >= 0 {
		return splitConnect(cs[i+1:])
	}
	return dialect.Source{DataSource: cs}
}

func splitConnect(s string) dialect.Source {
	host, service, _ := strings.Cut(strings.TrimPrefix(s, "//"), "/")
	return dialect.Source{DataSource: host, Database: service}
}
