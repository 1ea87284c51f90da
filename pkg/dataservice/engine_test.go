package dataservice

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/fluidsql/pkg/audit"
	"github.com/ruslano69/fluidsql/pkg/clientctx"
	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/dialect/mysql"
	"github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
	"github.com/ruslano69/fluidsql/pkg/fluid"
	"github.com/ruslano69/fluidsql/pkg/resilience"
)

var errBoom = errors.New("boom")

// ========== Фейковое соединение ==========

type fakeExec struct{}

func (fakeExec) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return driver.RowsAffected(1), nil
}

func (fakeExec) QueryContext(context.Context, string, ...any) (fluid.Rows, error) {
	return nil, errors.New("fake: no result sets")
}

type fakeTx struct {
	fakeExec
	commits   int
	rollbacks int
}

func (t *fakeTx) Commit() error   { t.commits++; return nil }
func (t *fakeTx) Rollback() error { t.rollbacks++; return nil }

type fakeConn struct {
	fakeExec
	tx     *fakeTx
	closed int
}

func (c *fakeConn) BeginTx(context.Context) (Tx, error) {
	c.tx = &fakeTx{}
	return c.tx, nil
}

func (c *fakeConn) Close() error { c.closed++; return nil }

type fakeOpener struct {
	conns []*fakeConn
	calls int
	err   error
	// failFirst - число первых вызовов, которые вернут err
	failFirst int
}

func (o *fakeOpener) Open(context.Context, dialect.Dialect, string) (Conn, error) {
	o.calls++
	if o.err != nil && (o.failFirst == 0 || o.calls <= o.failFirst) {
		return nil, o.err
	}
	c := &fakeConn{}
	o.conns = append(o.conns, c)
	return c, nil
}

func (o *fakeOpener) last(t *testing.T) *fakeConn {
	t.Helper()
	require.NotEmpty(t, o.conns, "no connection was opened")
	return o.conns[len(o.conns)-1]
}

func newFakeService(opts ...Option) (*Service, *fakeOpener) {
	o := &fakeOpener{}
	base := []Option{
		WithProperties(clientctx.Defaults()),
		WithConnectionString("file:fake.db"),
		WithOpener(o),
	}
	return New(sqlite.New(), append(base, opts...)...), o
}

// ========== Адаптер, записывающий порядок вызовов ==========

type recorder struct {
	log []string
}

type recordingAdapter struct {
	name  string
	rec   *recorder
	short int
	err   error
}

func (a *recordingAdapter) SelectCommand() *fluid.Command                               { return nil }
func (a *recordingAdapter) MutationCommands() []*fluid.Command                          { return nil }
func (a *recordingAdapter) Fill(context.Context, *dataset.DataSet, string) (int, error) { return 0, nil }
func (a *recordingAdapter) Execute(context.Context) (int, error)                        { return 0, nil }

func (a *recordingAdapter) Sync(_ context.Context, rows []*dataset.Row) (int, error) {
	a.rec.log = append(a.rec.log, a.name+":"+rows[0].State().String())
	if a.err != nil {
		return 0, a.err
	}
	return len(rows) - a.short, nil
}

// familyDataSet - таблицы Parent и Child, в каждой одна добавленная и одна удаленная строка
func familyDataSet(t *testing.T) *dataset.DataSet {
	t.Helper()
	return changedDataSet(t, "Parent", "Child")
}

func changedDataSet(t *testing.T, names ...string) *dataset.DataSet {
	t.Helper()
	ds := dataset.New("family")
	for _, name := range names {
		tbl, err := ds.NewTable(name)
		require.NoError(t, err)
		tbl.MustColumn("Id", dataset.KindInt32)
		require.NoError(t, tbl.SetPrimaryKey("Id"))
		_, err = tbl.Add(int32(1))
		require.NoError(t, err)
		gone, err := tbl.Load(int32(2))
		require.NoError(t, err)
		gone.Delete()
	}
	return ds
}

func familyConfigs(ds *dataset.DataSet, rec *recorder) (*recordingAdapter, *recordingAdapter, []*fluid.AdapterConfiguration) {
	parent := &recordingAdapter{name: "Parent", rec: rec}
	child := &recordingAdapter{name: "Child", rec: rec}
	return parent, child, []*fluid.AdapterConfiguration{
		fluid.NewAdapterConfiguration(ds, "Parent", parent, fluid.ActionUpdate),
		fluid.NewAdapterConfiguration(ds, "Child", child, fluid.ActionUpdate),
	}
}

func mustTable(t *testing.T, ds *dataset.DataSet, name string) *dataset.Table {
	t.Helper()
	tbl, ok := ds.Table(name)
	require.True(t, ok, "table %s", name)
	return tbl
}

// ========== Проходы ==========

func TestPerform_UpdateDeleteOrder(t *testing.T) {
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	rec := &recorder{}
	_, _, configs := familyConfigs(ds, rec)

	require.NoError(t, svc.Perform(context.Background(), configs...))

	assert.Equal(t, []string{"Parent:added", "Child:added", "Child:deleted", "Parent:deleted"}, rec.log)

	conn := opener.last(t)
	require.NotNil(t, conn.tx, "update batch must run in a transaction")
	assert.Equal(t, 1, conn.tx.commits)
	assert.Equal(t, 0, conn.tx.rollbacks)
	assert.Equal(t, 1, conn.closed)

	parent := mustTable(t, ds, "Parent")
	require.Equal(t, 1, parent.Len(), "deleted row is removed after commit")
	assert.Equal(t, dataset.Unchanged, parent.Rows()[0].State())
	assert.False(t, ds.HasChanges())
}

func TestPerform_PassDirections(t *testing.T) {
	names := []string{"T0", "T1", "T2"}
	ds := changedDataSet(t, names...)
	rec := &recorder{}
	var configs []*fluid.AdapterConfiguration
	for _, name := range names {
		a := &recordingAdapter{name: name, rec: rec}
		configs = append(configs, fluid.NewAdapterConfiguration(ds, name, a, fluid.ActionUpdate))
	}

	svc, _ := newFakeService()
	require.NoError(t, svc.Perform(context.Background(), configs...))
	assert.Equal(t, []string{
		"T0:added", "T1:added", "T2:added",
		"T2:deleted", "T1:deleted", "T0:deleted",
	}, rec.log)
}

func TestPerform_DeleteUpdateOrder(t *testing.T) {
	svc, _ := newFakeService(WithPerformOrder(clientctx.DeleteUpdate))
	ds := familyDataSet(t)
	rec := &recorder{}
	_, _, configs := familyConfigs(ds, rec)

	require.NoError(t, svc.Perform(context.Background(), configs...))

	assert.Equal(t, []string{"Child:deleted", "Parent:deleted", "Parent:added", "Child:added"}, rec.log)
}

func TestPerform_PriorityPasses(t *testing.T) {
	svc, _ := newFakeService()
	var order []int
	run := func(i int, p fluid.Priority) *fluid.AdapterConfiguration {
		return fluid.RunConfiguration(func(context.Context) (bool, error) {
			order = append(order, i)
			return true, nil
		}, fluid.WithPriority(p))
	}

	err := svc.Perform(context.Background(),
		run(0, fluid.OnUpdate),
		run(1, fluid.OnDelete),
		run(2, fluid.OnUpdate),
		run(3, fluid.OnDelete),
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 1}, order)
}

// ========== Атомарность ==========

func TestPerform_RollbackOnFailure(t *testing.T) {
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	rec := &recorder{}
	_, child, configs := familyConfigs(ds, rec)
	child.err = errBoom

	err := svc.Perform(context.Background(), configs...)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var pe *PerformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Perform", pe.Stage)
	assert.Equal(t, "Child", pe.Table)
	assert.Equal(t, "fake.db", pe.DataSource)
	assert.Contains(t, err.Error(), "Perform method failed: table [Child]")

	conn := opener.last(t)
	assert.Equal(t, 0, conn.tx.commits)
	assert.Equal(t, 1, conn.tx.rollbacks)
	assert.Equal(t, 1, conn.closed)

	// строки Parent отправлены, но транзакция откатилась
	parent := mustTable(t, ds, "Parent")
	assert.Equal(t, 2, parent.Len())
	assert.Equal(t, dataset.Added, parent.Rows()[0].State())
}

func TestPerform_ExecuteThenFailingRun(t *testing.T) {
	mem := audit.NewMemoryAppender()
	logger := audit.NewLogger(audit.LoggerConfig{}, mem)
	t.Cleanup(func() { logger.Close() })
	svc, opener := newFakeService(WithAudit(logger))

	exec := fluid.New(svc.Dialect()).CreateExecute("UPDATE Customer SET Name = 'x'")
	err := svc.Perform(context.Background(),
		fluid.NewAdapterConfiguration(nil, "Customer", exec, fluid.ActionExecute, fluid.WithExpectedRows(1)),
		fluid.RunConfiguration(func(context.Context) (bool, error) { return false, nil }),
	)
	assert.ErrorIs(t, err, ErrCustomCommandFailed)

	tx := opener.last(t).tx
	require.NotNil(t, tx)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)

	entries := mem.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, audit.OpExecute, entries[0].Operation)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, int64(1), entries[0].RecordsAffected)
	assert.Equal(t, audit.OpRun, entries[1].Operation)
	assert.Equal(t, audit.StatusFailure, entries[1].Status)
	assert.Equal(t, audit.OpPerform, entries[2].Operation)
	assert.Equal(t, audit.StatusFailure, entries[2].Status)
}

func TestPerform_ChangesNotPersisted(t *testing.T) {
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	_, child, configs := familyConfigs(ds, &recorder{})
	child.short = 1

	err := svc.Perform(context.Background(), configs...)
	assert.ErrorIs(t, err, ErrChangesNotPersisted)
	assert.Equal(t, 1, opener.last(t).tx.rollbacks)
}

func TestPerform_RunFalseFails(t *testing.T) {
	svc, opener := newFakeService(WithTransaction(true))

	err := svc.Perform(context.Background(), fluid.RunConfiguration(func(context.Context) (bool, error) {
		return false, nil
	}))
	assert.ErrorIs(t, err, ErrCustomCommandFailed)
	assert.Equal(t, 1, opener.last(t).tx.rollbacks)
}

func TestPerform_SkipsRunWithoutCommand(t *testing.T) {
	svc, opener := newFakeService()
	ran := false

	err := svc.Perform(context.Background(),
		fluid.NewAdapterConfiguration(nil, "", nil, fluid.ActionRun),
		fluid.RunConfiguration(func(context.Context) (bool, error) {
			ran = true
			return true, nil
		}),
	)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, opener.calls)
}

func TestPerform_NoTransactionForRunOnly(t *testing.T) {
	svc, opener := newFakeService()

	err := svc.Perform(context.Background(), fluid.RunConfiguration(func(context.Context) (bool, error) {
		return true, nil
	}))
	require.NoError(t, err)
	assert.Nil(t, opener.last(t).tx)
}

// ========== Проверка конфигураций ==========

func TestPerform_RejectsInvalidConfigurations(t *testing.T) {
	d := sqlite.New()
	ds := familyDataSet(t)

	tests := []struct {
		name string
		cfg  *fluid.AdapterConfiguration
		want error
	}{
		{"nil configuration", nil, ErrUnknownAction},
		{"none action", fluid.NewAdapterConfiguration(ds, "Parent", fluid.New(d), fluid.ActionNone), ErrUnknownAction},
		{"missing adapter", fluid.NewAdapterConfiguration(ds, "Parent", nil, fluid.ActionGet), ErrNoAdapter},
		{"missing table", fluid.NewAdapterConfiguration(ds, "Orders", fluid.New(d), fluid.ActionUpdate), ErrTableNotFound},
		{"builder error", fluid.NewAdapterConfiguration(ds, "Parent", fluid.New(d).SetParameter("x", dataset.KindInt32), fluid.ActionGet), fluid.ErrNoSelectCommand},
		{"get without dataset", fluid.NewAdapterConfiguration(nil, "Parent", fluid.New(d).CreateSelect("Parent", nil), fluid.ActionGet), ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, opener := newFakeService()
			err := svc.Perform(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, opener.calls, "connection must not be opened for an invalid batch")
		})
	}
}

func TestPerform_NoConnectionString(t *testing.T) {
	svc := New(sqlite.New(), WithProperties(clientctx.Defaults()), WithOpener(&fakeOpener{}))
	err := svc.Perform(context.Background(), fluid.RunConfiguration(func(context.Context) (bool, error) {
		return true, nil
	}))
	assert.ErrorIs(t, err, ErrNoConnectionString)
}

func TestPerform_BreakerFailsFast(t *testing.T) {
	breaker := resilience.New(resilience.Config{Name: "sqlite", MaxFailures: 1, Cooldown: time.Hour})
	svc, opener := newFakeService(WithBreaker(breaker))
	opener.err = errors.New("unable to open database file")
	run := fluid.RunConfiguration(func(context.Context) (bool, error) { return true, nil })

	err := svc.Perform(context.Background(), run)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "fake.db(main)")

	err = svc.Perform(context.Background(), run)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, opener.calls)
}

func TestPerform_RetriesConnection(t *testing.T) {
	var retries []int
	retryer, err := resilience.NewRetryer(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Backoff:      resilience.BackoffConstant,
		OnRetry:      func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) },
	})
	require.NoError(t, err)

	svc, opener := newFakeService(WithRetry(retryer))
	opener.err = errors.New("connection reset by peer")
	opener.failFirst = 2

	require.NoError(t, svc.Perform(context.Background(), fluid.RunConfiguration(func(context.Context) (bool, error) {
		return true, nil
	})))
	assert.Equal(t, 3, opener.calls)
	assert.Equal(t, []int{1, 2}, retries)
}

// ========== Глобальный режим ==========

func TestMultiplePerform_CommitsOnce(t *testing.T) {
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	rec := &recorder{}
	_, _, configs := familyConfigs(ds, rec)
	parent := mustTable(t, ds, "Parent")

	err := svc.MultiplePerform(context.Background(), func(ctx context.Context, s *Service) (bool, error) {
		assert.Equal(t, ModeGlobal, s.Mode())
		if err := s.Perform(ctx, configs[0]); err != nil {
			return false, err
		}
		// строки подтверждаются только после фиксации
		assert.Equal(t, dataset.Added, parent.Rows()[0].State())
		// повторная конфигурация той же таблицы не отправляет строки снова
		if err := s.Perform(ctx, configs...); err != nil {
			return false, err
		}
		return true, nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Parent:added", "Parent:deleted", "Child:added", "Child:deleted"}, rec.log)
	require.Len(t, opener.conns, 1)
	conn := opener.conns[0]
	assert.Equal(t, 1, conn.tx.commits)
	assert.Equal(t, 0, conn.tx.rollbacks)
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, ModeOwned, svc.Mode())
	assert.False(t, ds.HasChanges())
}

func TestMultiplePerform_ForceRollback(t *testing.T) {
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	_, _, configs := familyConfigs(ds, &recorder{})

	err := svc.MultiplePerform(context.Background(), func(ctx context.Context, s *Service) (bool, error) {
		if err := s.Perform(ctx, configs...); err != nil {
			return false, err
		}
		require.NoError(t, s.ForceRollback())
		assert.True(t, s.RollbackForced())
		return true, nil
	})
	require.NoError(t, err)

	conn := opener.last(t)
	assert.Equal(t, 0, conn.tx.commits)
	assert.Equal(t, 1, conn.tx.rollbacks)
	assert.True(t, ds.HasChanges(), "rolled back rows keep their changes")
	assert.False(t, svc.RollbackForced())
}

func TestMultiplePerform_FalseRollsBack(t *testing.T) {
	svc, opener := newFakeService()

	err := svc.MultiplePerform(context.Background(), func(context.Context, *Service) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrCustomCommandFailed)
	assert.Contains(t, err.Error(), "MultiplePerform method failed")

	conn := opener.last(t)
	assert.Equal(t, 1, conn.tx.rollbacks)
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, ModeOwned, svc.Mode())
}

func TestMultiplePerform_WithoutTransaction(t *testing.T) {
	svc, opener := newFakeService(WithTransaction(false))
	ds := familyDataSet(t)
	_, _, configs := familyConfigs(ds, &recorder{})

	err := svc.MultiplePerform(context.Background(), func(ctx context.Context, s *Service) (bool, error) {
		return true, s.Perform(ctx, configs...)
	})
	require.NoError(t, err)
	assert.Nil(t, opener.last(t).tx)
	assert.False(t, ds.HasChanges())
}

func TestShareGlobalConnectivity(t *testing.T) {
	owner, opener := newFakeService(WithCommandTimeout(7 * time.Second))
	sibling, siblingOpener := newFakeService()
	ds := familyDataSet(t)
	_, _, configs := familyConfigs(ds, &recorder{})

	err := owner.MultiplePerform(context.Background(), func(ctx context.Context, s *Service) (bool, error) {
		if err := sibling.ShareGlobalConnectivity(s); err != nil {
			return false, err
		}
		assert.Equal(t, 7*time.Second, sibling.CommandTimeout())

		stranger := New(mysql.New(), WithOpener(&fakeOpener{}))
		assert.ErrorIs(t, stranger.ShareGlobalConnectivity(s), ErrDialectMismatch)

		require.NoError(t, sibling.ForceRollback())
		return true, sibling.Perform(ctx, configs...)
	})
	require.NoError(t, err)

	assert.Equal(t, 0, siblingOpener.calls, "sibling uses the owner's connection")
	conn := opener.last(t)
	assert.Equal(t, 1, conn.tx.rollbacks, "force rollback flag is shared")
	assert.True(t, ds.HasChanges())

	// соединение владельца закрыто
	err = sibling.Perform(context.Background(), configs...)
	assert.ErrorIs(t, err, ErrNotGlobal)
}

func TestGlobalConnection_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, opener := newFakeService()
	ds := familyDataSet(t)
	_, _, configs := familyConfigs(ds, &recorder{})

	assert.ErrorIs(t, svc.CommitGlobalTransaction(), ErrNotGlobal)

	require.NoError(t, svc.OpenGlobalConnection(ctx))
	assert.ErrorIs(t, svc.OpenGlobalConnection(ctx), ErrAlreadyGlobal)
	require.NoError(t, svc.Perform(ctx, configs...))
	require.NoError(t, svc.RollbackGlobalTransaction())
	assert.True(t, ds.HasChanges())
	assert.ErrorIs(t, svc.CommitGlobalTransaction(), ErrNoTransaction)

	// без транзакции строки подтверждаются сразу
	require.NoError(t, svc.Perform(ctx, configs...))
	assert.False(t, ds.HasChanges())

	require.NoError(t, svc.CloseGlobalConnection())
	assert.ErrorIs(t, svc.CloseGlobalConnection(), ErrNotGlobal)
	assert.Equal(t, ModeOwned, svc.Mode())
	assert.Equal(t, 1, opener.last(t).closed)
	assert.Equal(t, 1, opener.calls)
}

func TestNewGlobal_LeavesCallerTransaction(t *testing.T) {
	conn := &fakeConn{}
	tx := &fakeTx{}
	svc := NewGlobal(sqlite.New(), conn, tx, WithProperties(clientctx.Defaults()))
	ds := familyDataSet(t)
	_, _, configs := familyConfigs(ds, &recorder{})

	require.NoError(t, svc.Perform(context.Background(), configs...))
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)
	assert.Equal(t, 0, conn.closed)
	assert.False(t, ds.HasChanges())
}

func TestInherit(t *testing.T) {
	parent, _ := newFakeService(WithCommandTimeout(3*time.Second), WithPerformOrder(clientctx.DeleteUpdate))
	child := New(sqlite.New())
	require.NoError(t, child.Inherit(parent))
	assert.Equal(t, 3*time.Second, child.CommandTimeout())
	assert.Equal(t, clientctx.DeleteUpdate, child.PerformOrder())
	assert.Equal(t, "file:fake.db", child.ConnectionString())

	assert.ErrorIs(t, New(mysql.New()).Inherit(parent), ErrDialectMismatch)
}

func TestUnprepareIsIdempotent(t *testing.T) {
	d := sqlite.New()
	a := fluid.New(d).CreateSelect("Parent", nil)
	b := &batch{configs: []*fluid.AdapterConfiguration{
		fluid.NewAdapterConfiguration(dataset.New("x"), "Parent", a, fluid.ActionGet),
	}}

	b.bind(fakeExec{}, time.Second)
	require.True(t, a.Select.Bound())
	b.unprepare()
	b.unprepare()
	assert.False(t, a.Select.Bound())
}
