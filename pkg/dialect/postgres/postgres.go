// Package postgres регистрирует диалект PostgreSQL (pgx через database/sql).
//
// Параметры в тексте пишутся как "@Name" и перед выполнением заменяются на "$n";
// повторное вхождение имени получает тот же номер, поэтому тип параметра в
// "@Original_X IS NULL" выводится из сравнения с колонкой.
package postgres

import (
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Name - ключ в реестре
const Name = "postgres"

// Dialect - диалект PostgreSQL
type Dialect struct {
	dialect.Conventions
}

func init() {
	dialect.Register(New())
}

// New возвращает диалект PostgreSQL
func New() *Dialect {
	return &Dialect{Conventions: dialect.Conventions{
		DialectName:     Name,
		Driver:          "pgx",
		QuoteOpen:       `"`,
		QuoteClose:      `"`,
		Prefix:          "@",
		OriginalMarker:  "Original_",
		LastID:          "lastval()",
		AliasKeyword:    true,
		ProcedureFormat: "SELECT * FROM %s(%s)",
		Bind:            dialect.BindNumbered,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString:   {NativeType: "Text", IsDefault: true},
			dataset.KindGUID:     {NativeType: "Uuid"},
			dataset.KindInt32:    {NativeType: "Integer"},
			dataset.KindBool:     {NativeType: "Boolean"},
			dataset.KindDateTime: {NativeType: "Timestamp"},
			dataset.KindByte:     {NativeType: "Smallint"},
			dataset.KindInt16:    {NativeType: "Smallint"},
			dataset.KindInt64:    {NativeType: "Bigint"},
			dataset.KindDecimal:  {NativeType: "Numeric"},
			dataset.KindFloat64:  {NativeType: "Double"},
			dataset.KindBytes:    {NativeType: "Bytea"},
		},
	}}
}

// DriverValue: pgx не кодирует uint8 в smallint
func (d *Dialect) DriverValue(_ dialect.Hint, v any) any {
	if b, ok := v.(uint8); ok {
		return int16(b)
	}
	return v
}

// Describe разбирает URL или key=value строку подключения pgx
func (d *Dialect) Describe(connectionString string) dialect.Source {
	cfg, err := pgx.ParseConfig(connectionString)
	if err != nil {
		return dialect.Source{}
	}
	return dialect.Source{DataSource: cfg.Host, Database: cfg.Database}
}
