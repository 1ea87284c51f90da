package fluid

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/dialect/mssql"
	"github.com/ruslano69/fluidsql/pkg/dialect/mysql"
	"github.com/ruslano69/fluidsql/pkg/dialect/oracle"
	"github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
)

// customerTable - (Id int autoincrement PK, Name string nullable)
func customerTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl := dataset.NewTable("Customer")
	id := tbl.MustColumn("Id", dataset.KindInt32)
	id.AutoIncrement = true
	tbl.MustColumn("Name", dataset.KindString)
	require.NoError(t, tbl.SetPrimaryKey("Id"))
	return tbl
}

func TestCreateUpdateSQLite(t *testing.T) {
	a := New(sqlite.New()).CreateUpdate(customerTable(t))
	require.NoError(t, a.Err())

	assert.Equal(t, `SELECT "Id", "Name" FROM "Customer"`, a.Select.Text)
	assert.Equal(t, "Customer", a.TableMapping)

	assert.Equal(t, `INSERT INTO "Customer" ("Name") VALUES (@Name)`, a.Insert.Text)
	assert.Equal(t, `SELECT "Id", "Name" FROM "Customer" WHERE ("Id" = last_insert_rowid())`, a.Insert.ExtraSelect)

	assert.Equal(t, `UPDATE "Customer" SET "Name" = @Name WHERE ("Id" = @Original_Id) AND `+
		`((@Original_Name IS NULL AND "Name" IS NULL) OR ("Name" = @Original_Name))`, a.Update.Text)
	assert.Equal(t, `SELECT "Id", "Name" FROM "Customer" WHERE ("Id" = @Id)`, a.Update.ExtraSelect)

	assert.Equal(t, `DELETE FROM "Customer" WHERE ("Id" = @Original_Id) AND `+
		`((@Original_Name IS NULL AND "Name" IS NULL) OR ("Name" = @Original_Name))`, a.Delete.Text)
	assert.Empty(t, a.Delete.ExtraSelect)

	// параметры берут значения из строки
	p, ok := a.Delete.Parameter("Original_Name")
	require.True(t, ok)
	assert.Equal(t, "Name", p.SourceColumn)
	assert.Equal(t, dataset.Original, p.Version)
	assert.Len(t, a.MutationCommands(), 3)
}

func TestCreateUpdateMSSQLBatchesIdentity(t *testing.T) {
	a := New(mssql.New()).CreateUpdate(customerTable(t), WithSchema("dbo"))
	require.NoError(t, a.Err())

	assert.Equal(t, "INSERT INTO [dbo].[Customer] ([Name]) VALUES (@Name);\n"+
		"SELECT [Id], [Name] FROM [dbo].[Customer] WHERE ([Id] = SCOPE_IDENTITY())", a.Insert.FullText())

	p, ok := a.Insert.Parameter("@Name")
	require.True(t, ok)
	assert.Equal(t, "NVarChar", p.Hint.NativeType)
}

func TestCreateUpdateOracleFoldsNames(t *testing.T) {
	a := New(oracle.New()).CreateUpdate(customerTable(t), WithDBTable("crm.customers"))
	require.NoError(t, a.Err())

	assert.Equal(t, `INSERT INTO "CRM"."CUSTOMERS" ("NAME") VALUES (:CUR_NAME)`, a.Insert.Text)
	// у Oracle нет выражения последнего ключа
	assert.Empty(t, a.Insert.ExtraSelect)
	assert.Equal(t, `DELETE FROM "CRM"."CUSTOMERS" WHERE ("ID" = :ORI_ID) AND `+
		`((:ORI_NAME IS NULL AND "NAME" IS NULL) OR ("NAME" = :ORI_NAME))`, a.Delete.Text)
}

func TestCreateUpdateShape(t *testing.T) {
	dialects := []dialect.Dialect{mssql.New(), mysql.New(), oracle.New(), sqlite.New()}

	tbl := dataset.NewTable("Orders")
	tbl.MustColumn("OrderId", dataset.KindGUID)
	tbl.MustColumn("Number", dataset.KindInt32).AllowNull = false
	tbl.MustColumn("Total", dataset.KindDecimal)
	tbl.MustColumn("Note", dataset.KindString)
	require.NoError(t, tbl.SetPrimaryKey("OrderId"))

	for _, d := range dialects {
		t.Run(d.Name(), func(t *testing.T) {
			a := New(d).CreateUpdate(tbl)
			require.NoError(t, a.Err())

			// все четыре колонки в INSERT, в одном порядке в списке колонок и значений
			cols := []string{"OrderId", "Number", "Total", "Note"}
			ins := a.Insert.Text
			last := -1
			for _, c := range cols {
				i := strings.Index(ins, d.QuoteIdentifier(c))
				require.Greater(t, i, last, "column %s out of order", c)
				last = i
			}
			last = strings.Index(ins, "VALUES")
			for _, c := range cols {
				i := strings.Index(ins, d.ParameterName(c, dataset.Current))
				require.Greater(t, i, last, "value %s out of order", c)
				last = i
			}

			// по одному условию на колонку
			where := a.Delete.Text[strings.Index(a.Delete.Text, "WHERE")+len("WHERE"):]
			assert.Equal(t, len(cols), strings.Count(where, " = "))
			// NOT NULL колонки без расширения на NULL, остальные с ним
			assert.Equal(t, 2, strings.Count(where, "IS NULL AND"))

			// ключ не автоинкрементный: повторная выборка по параметру ключа
			assert.Contains(t, a.Insert.ExtraSelect, d.QuoteIdentifier("OrderId")+" = "+d.ParameterName("OrderId", dataset.Current))
		})
	}
}

func TestCreateUpdateColumnSubsets(t *testing.T) {
	tbl := customerTable(t)
	tbl.MustColumn("Email", dataset.KindString)

	a := New(sqlite.New()).CreateUpdate(tbl,
		WithSelectColumns("Id", "Email"),
		WithWhereColumns("Id"),
	)
	require.NoError(t, a.Err())

	assert.Equal(t, `SELECT "Id", "Email" FROM "Customer"`, a.Select.Text)
	assert.Equal(t, `UPDATE "Customer" SET "Email" = @Email WHERE ("Id" = @Original_Id)`, a.Update.Text)

	bad := New(sqlite.New()).CreateUpdate(tbl, WithWhereColumns("Missing"))
	assert.True(t, errors.Is(bad.Err(), dataset.ErrColumnNotFound))
}

func TestCreateUpdateWithoutKey(t *testing.T) {
	tbl := dataset.NewTable("Log")
	tbl.MustColumn("Line", dataset.KindString)

	a := New(mysql.New()).CreateUpdate(tbl)
	require.NoError(t, a.Err())
	assert.Empty(t, a.Insert.ExtraSelect)
	assert.Empty(t, a.Update.ExtraSelect)

	// только автоинкремент: INSERT без колонок, UPDATE не строится
	only := dataset.NewTable("Seq")
	only.MustColumn("Id", dataset.KindInt64).AutoIncrement = true
	a = New(mysql.New()).CreateUpdate(only)
	require.NoError(t, a.Err())
	assert.Equal(t, "INSERT INTO `Seq` () VALUES ()", a.Insert.Text)
	assert.Nil(t, a.Update)
	assert.Len(t, a.MutationCommands(), 2)

	assert.True(t, errors.Is(New(mysql.New()).CreateUpdate(dataset.NewTable("Empty")).Err(), ErrNoColumns))
}

func TestFieldHintOverridesKind(t *testing.T) {
	a := New(mssql.New()).AddFieldHint("Name", "VarChar", 40).CreateUpdate(customerTable(t))
	require.NoError(t, a.Err())

	p, ok := a.Insert.Parameter("Name")
	require.True(t, ok)
	assert.Equal(t, dialect.Hint{NativeType: "VarChar", Size: 40}, p.Hint)
}

func TestUnsupportedType(t *testing.T) {
	narrow := &dialect.Conventions{
		DialectName: "narrow",
		QuoteOpen:   `"`,
		QuoteClose:  `"`,
		Prefix:      "@",
		Bind:        dialect.BindNamed,
		Hints: map[dataset.Kind]dialect.Hint{
			dataset.KindString: {NativeType: "text"},
		},
	}

	a := New(narrow).CreateSelect("t", nil).SetParameter("@id", dataset.KindInt32)
	assert.True(t, errors.Is(a.Err(), ErrUnsupportedType))

	a = New(narrow).CreateUpdate(customerTable(t))
	assert.True(t, errors.Is(a.Err(), ErrUnsupportedType))

	// подсказка поля разрешает тип
	a = New(narrow).AddFieldHint("Id", "integer").CreateUpdate(customerTable(t))
	assert.NoError(t, a.Err())
}

func TestConditions(t *testing.T) {
	a := New(mssql.New()).
		CreateSelect("Orders", []string{"Id", "COUNT(*)"}, WithAlias("o")).
		SetCondition("o.[Closed] = 0", Or).
		SetFieldCondition("o.CustomerId", "customer", OfKind(dataset.KindGUID)).
		SetFieldCondition("Total", "@min", WithComparison(">="), WithConnector(Or), WithFieldAlias("o")).
		Fragment("ORDER BY o.[Id]")
	require.NoError(t, a.Err())

	assert.Equal(t, "SELECT o.[Id], COUNT(*) FROM [Orders] AS o WHERE o.[Closed] = 0"+
		" AND o.[CustomerId] = @customer OR o.[Total] >= @min ORDER BY o.[Id]", a.Select.Text)

	p, ok := a.Select.Parameter("customer")
	require.True(t, ok)
	assert.Equal(t, "UniqueIdentifier", p.Hint.NativeType)
	assert.Equal(t, dataset.KindGUID, p.Kind)

	p, ok = a.Select.Parameter("min")
	require.True(t, ok)
	assert.True(t, p.Hint.IsDefault)

	// новый SELECT снова начинает с WHERE
	a.CreateSelect("Orders", nil).SetCondition("1 = 1")
	assert.Equal(t, "SELECT * FROM [Orders] WHERE 1 = 1", a.Select.Text)
}

func TestSelectText(t *testing.T) {
	a := New(sqlite.New()).CreateSelectText("SELECT * FROM v WHERE a = 1", "V").ContinueWhere().SetCondition("b = 2")
	assert.Equal(t, "SELECT * FROM v WHERE a = 1 AND b = 2", a.Select.Text)
	assert.Equal(t, "V", a.TableMapping)

	a = New(sqlite.New()).CreateSelectText("SELECT * FROM (SELECT * FROM t WHERE a = 1) s", "t").SetCondition("s.b = 2")
	require.NoError(t, a.Err())
	assert.Equal(t, "SELECT * FROM (SELECT * FROM t WHERE a = 1) s WHERE s.b = 2", a.Select.Text)

	assert.True(t, errors.Is(New(sqlite.New()).ContinueWhere().Err(), ErrNoSelectCommand))

	a = New(mssql.New()).CreateSelectProcedure("GetOrders", "Orders").SetParameter("@From", dataset.KindDateTime)
	require.NoError(t, a.Err())
	text, err := a.Select.render()
	require.NoError(t, err)
	assert.Equal(t, "EXEC [GetOrders] @From", text)

	a.SetCondition("x = 1")
	assert.True(t, errors.Is(a.Err(), ErrNoSelectCommand))

	assert.True(t, errors.Is(New(sqlite.New()).SetCondition("x").Err(), ErrNoSelectCommand))
}
