package fluid

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
)

// openCustomers создает файловую SQLite базу с таблицей Customer и возвращает одно соединение
func openCustomers(t *testing.T, rows ...string) *sql.Conn {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "fluid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.ExecContext(ctx, `CREATE TABLE Customer (Id INTEGER PRIMARY KEY AUTOINCREMENT, Name TEXT NULL)`)
	require.NoError(t, err)
	for _, stmt := range rows {
		_, err = conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return conn
}

func bindAll(a *Adapter, e Executor) {
	a.Select.Bind(e, 5*time.Second)
	for _, c := range a.MutationCommands() {
		c.Bind(e, 5*time.Second)
	}
}

func TestFillAndSyncSQLite(t *testing.T) {
	ctx := context.Background()
	conn := openCustomers(t,
		`INSERT INTO Customer (Name) VALUES (NULL)`,
		`INSERT INTO Customer (Name) VALUES ('Y')`,
	)

	ds := dataset.New("crm")
	tbl := customerTable(t)
	require.NoError(t, ds.AddTable(tbl))

	a := New(sqlite.New()).CreateUpdate(tbl)
	require.NoError(t, a.Err())
	bindAll(a, SQLExecutor(conn))

	n, err := a.Fill(ctx, ds, "")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, tbl.Len())

	first, second := tbl.Rows()[0], tbl.Rows()[1]
	assert.Equal(t, int32(1), first.Get("Id"))
	assert.True(t, first.IsNull("Name"))
	assert.Equal(t, "Y", second.Get("Name"))

	// NULL в исходном значении совпадает с NULL в базе
	require.NoError(t, first.Set("Name", "X"))
	affected, err := a.Sync(ctx, tbl.Select(dataset.Modified))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	// строка считается NULL, а в базе 'Y': условие не совпадает
	stale, err := tbl.Load(int32(2), nil)
	require.NoError(t, err)
	require.Same(t, second, stale)
	require.NoError(t, second.Set("Name", "Z"))
	affected, err = a.Sync(ctx, []*dataset.Row{second})
	require.NoError(t, err)
	assert.Equal(t, 0, affected)

	var name string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT Name FROM Customer WHERE Id = 2`).Scan(&name))
	assert.Equal(t, "Y", name)
}

func TestSyncInsertReselectsIdentity(t *testing.T) {
	ctx := context.Background()
	conn := openCustomers(t, `INSERT INTO Customer (Name) VALUES ('first')`)

	tbl := customerTable(t)
	a := New(sqlite.New()).CreateUpdate(tbl)
	require.NoError(t, a.Err())
	bindAll(a, SQLExecutor(conn))

	row, err := tbl.Add(nil, nil)
	require.NoError(t, err)

	affected, err := a.Sync(ctx, tbl.Select(dataset.Added))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)
	assert.Equal(t, int32(2), row.Get("Id"))
	assert.Equal(t, dataset.Added, row.State(), "rows are accepted by the caller")

	tbl.AcceptChanges()
	row.Delete()
	affected, err = a.Sync(ctx, tbl.Select(dataset.Deleted))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM Customer`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestFillCreatesTable(t *testing.T) {
	ctx := context.Background()
	conn := openCustomers(t, `INSERT INTO Customer (Name) VALUES ('a')`)

	a := New(sqlite.New()).CreateSelect("Customer", []string{"Id", "Name"})
	a.Select.Bind(SQLExecutor(conn), 0)

	ds := dataset.New("crm")
	n, err := a.Fill(ctx, ds, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tbl, ok := ds.Table("customer")
	require.True(t, ok)
	require.Len(t, tbl.Columns(), 2)
	assert.Equal(t, dataset.KindInt32, tbl.Columns()[0].Kind)
	assert.Equal(t, dataset.KindString, tbl.Columns()[1].Kind)
	assert.Equal(t, "a", tbl.Rows()[0].Get("Name"))
}

func TestStampAudit(t *testing.T) {
	tbl := dataset.NewTable("Doc")
	tbl.MustColumn("Id", dataset.KindInt32)
	tbl.MustColumn(AuditUserColumn, dataset.KindString)
	tbl.MustColumn(AuditDateColumn, dataset.KindDateTime)

	_, err := tbl.Load(1, nil, nil)
	require.NoError(t, err)
	added, err := tbl.Add(2, nil, nil)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	n, err := StampAudit(tbl, AuditStamp{User: "ops", At: at})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ops", added.Get(AuditUserColumn))
	assert.Equal(t, at, added.Get(AuditDateColumn))

	n, err = StampAudit(tbl, AuditStamp{User: "ops", At: at, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, tbl.Select(dataset.Modified), 1)
}
