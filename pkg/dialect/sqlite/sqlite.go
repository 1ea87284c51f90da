// Package sqlite регистрирует диалект SQLite (драйвер modernc.org/sqlite, чистый Go).
package sqlite

import (
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Name - ключ в реестре
const Name = "sqlite"

// Dialect - диалект SQLite
type Dialect struct {
	dialect.Conventions
}

func init() {
	dialect.Register(New())
}

// New возвращает диалект SQLite
func New() *Dialect {
	return &Dialect{Conventions: dialect.Conventions{
		DialectName:    Name,
		Driver:         "sqlite",
		QuoteOpen:      `"`,
		QuoteClose:     `"`,
		Prefix:         "@",
		OriginalMarker: "Original_",
		LastID:         "last_insert_rowid()",
		AliasKeyword:   true,
		Bind:           dialect.BindNamed,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString:   {NativeType: "String", IsDefault: true},
			dataset.KindGUID:     {NativeType: "Guid"},
			dataset.KindInt32:    {NativeType: "Int32"},
			dataset.KindBool:     {NativeType: "Boolean"},
			dataset.KindDateTime: {NativeType: "DateTime"},
			dataset.KindByte:     {NativeType: "Byte"},
			dataset.KindInt16:    {NativeType: "Int16"},
			dataset.KindInt64:    {NativeType: "Int64"},
			dataset.KindDecimal:  {NativeType: "Decimal"},
			dataset.KindFloat64:  {NativeType: "Double"},
			dataset.KindBytes:    {NativeType: "Binary"},
		},
	}}
}

// Describe: путь к файлу базы без префикса file: и параметров
func (d *Dialect) Describe(connectionString string) dialect.Source {
	path := strings.TrimPrefix(connectionString, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return dialect.Source{DataSource: path, Database: "main"}
}
