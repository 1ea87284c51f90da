// Package mysql регистрирует диалект MySQL.
//
// Параметры в тексте команд пишутся как "@Name", перед выполнением
// известные имена заменяются на позиционные "?": драйвер не поддерживает sql.Named.
package mysql

import (
	drv "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Name - ключ в реестре
const Name = "mysql"

// Dialect - диалект MySQL
type Dialect struct {
	dialect.Conventions
}

func init() {
	dialect.Register(New())
}

// New возвращает диалект MySQL
func New() *Dialect {
	return &Dialect{Conventions: dialect.Conventions{
		DialectName:     Name,
		Driver:          "mysql",
		QuoteOpen:       "`",
		QuoteClose:      "`",
		Prefix:          "@",
		OriginalMarker:  "Original_",
		LastID:          "LAST_INSERT_ID()",
		AliasKeyword:    true,
		ProcedureFormat: "CALL %s(%s)",
		Bind:            dialect.BindQuestion,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString:   {NativeType: "VarChar", IsDefault: true},
			dataset.KindGUID:     {NativeType: "Guid"},
			dataset.KindInt32:    {NativeType: "Int32"},
			dataset.KindBool:     {NativeType: "Bit"},
			dataset.KindDateTime: {NativeType: "DateTime"},
			dataset.KindByte:     {NativeType: "UByte"},
			dataset.KindInt16:    {NativeType: "Int16"},
			dataset.KindInt64:    {NativeType: "Int64"},
			dataset.KindDecimal:  {NativeType: "Decimal"},
			dataset.KindFloat64:  {NativeType: "Double"},
			dataset.KindBytes:    {NativeType: "VarBinary"},
		},
	}}
}

// DefaultValuesInsert - MySQL не понимает DEFAULT VALUES
func (d *Dialect) DefaultValuesInsert(table string) string {
	return "INSERT INTO " + table + " () VALUES ()"
}

// Describe разбирает DSN драйвера (user:pass@tcp(host:3306)/db)
func (d *Dialect) Describe(connectionString string) dialect.Source {
	cfg, err := drv.ParseDSN(connectionString)
	if err != nil {
		return dialect.DescribeKeyValue(connectionString)
	}
	return dialect.Source{DataSource: cfg.Addr, Database: cfg.DBName}
}
