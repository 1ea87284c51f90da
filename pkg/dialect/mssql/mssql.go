// Package mssql registers the Microsoft SQL Server dialect.
//
// Identifiers are bracket-quoted, parameters use the "@" prefix with an
// "Original_" marker for original values, and the row re-selected after an
// identity insert is matched on SCOPE_IDENTITY() in the same batch.
package mssql

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	mssqldb "github.com/denisenkom/go-mssqldb" // MS SQL Server driver

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Name is the registry key of the dialect.
const Name = "mssql"

// Dialect implements dialect.Dialect for SQL Server.
type Dialect struct {
	dialect.Conventions
}

func init() {
	dialect.Register(New())
}

// New returns the SQL Server dialect.
func New() *Dialect {
	return &Dialect{Conventions: dialect.Conventions{
		DialectName:     Name,
		Driver:          "mssql",
		QuoteOpen:       "[",
		QuoteClose:      "]",
		Prefix:          "@",
		OriginalMarker:  "Original_",
		LastID:          "SCOPE_IDENTITY()",
		BatchExtra:      true,
		AliasKeyword:    true,
		ProcedureFormat: "EXEC %s %s",
		Bind:            dialect.BindNamed,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString:   {NativeType: "NVarChar", IsDefault: true},
			dataset.KindGUID:     {NativeType: "UniqueIdentifier"},
			dataset.KindInt32:    {NativeType: "Int"},
			dataset.KindBool:     {NativeType: "Bit"},
			dataset.KindDateTime: {NativeType: "DateTime"},
			dataset.KindByte:     {NativeType: "TinyInt"},
			dataset.KindInt16:    {NativeType: "SmallInt"},
			dataset.KindInt64:    {NativeType: "BigInt"},
			dataset.KindDecimal:  {NativeType: "Decimal"},
			dataset.KindFloat64:  {NativeType: "Float"},
			dataset.KindBytes:    {NativeType: "VarBinary"},
		},
	}}
}

// DriverValue maps hinted values onto the driver's typed parameters so that
// VarChar columns are not compared against NVARCHAR parameters and GUIDs keep
// SQL Server byte order.
func (d *Dialect) DriverValue(h dialect.Hint, v any) any {
	switch x := v.(type) {
	case string:
		if strings.EqualFold(h.NativeType, "VarChar") {
			return mssqldb.VarChar(x)
		}
	case uuid.UUID:
		return mssqldb.UniqueIdentifier(x)
	case time.Time:
		if strings.EqualFold(h.NativeType, "DateTime") {
			return mssqldb.DateTime1(x)
		}
	}
	return v
}

// ScanValue decodes uniqueidentifier bytes, which the driver returns in
// SQL Server's mixed-endian layout.
func (d *Dialect) ScanValue(k dataset.Kind, v any) any {
	b, ok := v.([]byte)
	if !ok || k != dataset.KindGUID || len(b) != 16 {
		return v
	}
	var id mssqldb.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return uuid.UUID(id)
}

// Describe accepts both "server=...;database=..." and sqlserver:// URL forms.
func (d *Dialect) Describe(connectionString string) dialect.Source {
	if strings.HasPrefix(strings.ToLower(connectionString), "sqlserver://") {
		u, err := url.Parse(connectionString)
		if err != nil {
			return dialect.Source{}
		}
		return dialect.Source{DataSource: u.Host, Database: u.Query().Get("database")}
	}
	return dialect.DescribeKeyValue(connectionString)
}
