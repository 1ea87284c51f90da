package dataservice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/fluidsql/pkg/audit"
	"github.com/ruslano69/fluidsql/pkg/clientctx"
	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/fluid"
)

// pass - проход Perform
type pass int

const (
	passUpdate pass = iota
	passDelete
)

func (p pass) String() string {
	if p == passDelete {
		return "delete"
	}
	return "update"
}

func (p pass) states() dataset.RowState {
	if p == passDelete {
		return dataset.Deleted
	}
	return dataset.Added | dataset.Modified
}

func (p pass) priority() fluid.Priority {
	if p == passDelete {
		return fluid.OnDelete
	}
	return fluid.OnUpdate
}

func passes(o clientctx.PerformOrder) []pass {
	if o == clientctx.DeleteUpdate {
		return []pass{passDelete, passUpdate}
	}
	return []pass{passUpdate, passDelete}
}

// Perform1 выполняет одну конфигурацию
func (s *Service) Perform1(ctx context.Context, cfg *fluid.AdapterConfiguration) error {
	return s.Perform(ctx, cfg)
}

// Perform выполняет пакет конфигураций на одном соединении.
//
// Update-конфигурации отправляют добавленные и измененные строки в проходе
// изменений (по порядку конфигураций) и удаленные строки в проходе удалений
// (в обратном порядке). Get, Execute и Run выполняются в проходе своего
// приоритета. Порядок проходов задает PerformOrder.
//
// В режиме Owned транзакция, открытая сервисом, фиксируется после успеха
// и откатывается при любой ошибке. Сохраненные строки подтверждаются
// (AcceptChanges) только после фиксации.
func (s *Service) Perform(ctx context.Context, configs ...*fluid.AdapterConfiguration) error {
	start := time.Now()
	b := &batch{svc: s, configs: configs}

	err := s.perform(ctx, b)
	if err != nil {
		err = s.performError("Perform", err)
	}
	s.record(ctx, audit.OpPerform, start, b, statusOf(err), err)
	return err
}

func (s *Service) perform(ctx context.Context, b *batch) error {
	if s.mode == ModeGlobal && !s.global.open() {
		return ErrNotGlobal
	}
	if err := b.prepare(); err != nil {
		return err
	}
	defer b.unprepare()

	if s.mode == ModeGlobal {
		g := s.global
		b.persisted = g.persisted
		b.bind(g.Executor(), s.CommandTimeout())
		if err := b.run(ctx); err != nil {
			// отправленное осталось в транзакции сервиса до ее фиксации или отката
			if g.defersAcceptance() {
				g.pending = append(g.pending, b.synced...)
			} else {
				b.forget()
			}
			return err
		}
		if g.defersAcceptance() {
			g.pending = append(g.pending, b.synced...)
		} else {
			b.accept()
		}
		return nil
	}

	c, err := s.open(ctx, s.wantsTransaction(b.configs))
	if err != nil {
		return err
	}
	defer s.closeConn(c.Conn)

	b.persisted = make(map[*dataset.Row]struct{})
	b.bind(c.Executor(), s.CommandTimeout())
	if err := b.run(ctx); err != nil {
		s.rollback(c.Tx, err)
		return err
	}
	if c.Tx != nil {
		if err := c.Tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		s.log.Info().Str("dialect", s.dialect.Name()).Int("rows", len(b.synced)).Msg("transaction committed")
	}
	b.accept()
	return nil
}

// wantsTransaction - явная политика или автоопределение по действиям
func (s *Service) wantsTransaction(configs []*fluid.AdapterConfiguration) bool {
	if s.useTransaction != nil {
		return *s.useTransaction
	}
	for _, cfg := range configs {
		if cfg.Action == fluid.ActionExecute || cfg.Action == fluid.ActionUpdate {
			return true
		}
	}
	return false
}

// open открывает соединение и, если нужно, транзакцию
func (s *Service) open(ctx context.Context, withTx bool) (Connectivity, error) {
	cs := s.ConnectionString()
	if cs == "" {
		return Connectivity{}, ErrNoConnectionString
	}
	src := s.dialect.Describe(cs)

	var conn Conn
	dial := func(ctx context.Context) error {
		c, err := s.opener.Open(ctx, s.dialect, cs)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if s.breaker != nil {
		guarded := dial
		dial = func(ctx context.Context) error { return s.breaker.Execute(ctx, guarded) }
	}
	var err error
	if s.retry != nil {
		err = s.retry.Do(ctx, dial)
	} else {
		err = dial(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("dialect", s.dialect.Name()).Str("data_source", src.DataSource).Msg("connection failed")
		return Connectivity{}, fmt.Errorf("%w: %s: %w", ErrConnection, src, err)
	}

	c := Connectivity{Conn: conn}
	if withTx {
		tx, err := conn.BeginTx(ctx)
		if err != nil {
			s.closeConn(conn)
			return Connectivity{}, fmt.Errorf("%w: %s: begin transaction: %w", ErrConnection, src, err)
		}
		c.Tx = tx
	}
	s.log.Debug().
		Str("dialect", s.dialect.Name()).
		Str("data_source", src.DataSource).
		Bool("transaction", withTx).
		Msg("connection opened")
	return c, nil
}

func (s *Service) rollback(tx Tx, cause error) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil {
		s.log.Error().Err(err).Str("dialect", s.dialect.Name()).Msg("rollback failed")
		return
	}
	s.log.Warn().Err(cause).Str("dialect", s.dialect.Name()).Msg("transaction rolled back")
}

func (s *Service) closeConn(c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		s.log.Warn().Err(err).Str("dialect", s.dialect.Name()).Msg("close connection")
	}
}

// record пишет запись аудита и метрики вызова
func (s *Service) record(ctx context.Context, op audit.Operation, start time.Time, b *batch, status audit.Status, err error) {
	elapsed := time.Since(start)
	s.metrics.observePerform(s.dialect.Name(), string(status), elapsed)

	entry := s.auditEntry(op, status, elapsed, err)
	if b != nil {
		for _, cfg := range b.configs {
			if cfg != nil && cfg.TableName != "" {
				entry.WithTable(cfg.TableName)
			}
		}
		entry.WithRecordsAffected(int64(b.affected))
	}
	s.writeAudit(ctx, entry)
}

func (s *Service) auditEntry(op audit.Operation, status audit.Status, elapsed time.Duration, err error) *audit.Entry {
	src := s.source()
	return audit.NewEntry(op, status).
		WithUser(s.props.User.UserName, s.props.User.WorkStation).
		WithDialect(s.dialect.Name()).
		WithDataSource(src.DataSource, src.Database).
		WithDuration(elapsed).
		WithError(err)
}

func (s *Service) writeAudit(ctx context.Context, entry *audit.Entry) {
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("operation", string(entry.Operation)).Msg("audit entry was not written")
	}
}

func statusOf(err error) audit.Status {
	if err != nil {
		return audit.StatusFailure
	}
	return audit.StatusSuccess
}

// batch - один вызов Perform
type batch struct {
	svc     *Service
	configs []*fluid.AdapterConfiguration

	// persisted - строки, уже отправленные в этом вызове (или в глобальной транзакции)
	persisted map[*dataset.Row]struct{}
	synced    []*dataset.Row
	affected  int
}

// prepare проверяет конфигурации и задает значения параметров команд
func (b *batch) prepare() error {
	for i, cfg := range b.configs {
		if cfg == nil {
			return fmt.Errorf("configuration %d: %w", i, ErrUnknownAction)
		}
		if err := prepareConfig(cfg); err != nil {
			return inTable(cfg.TableName, err)
		}
	}
	return nil
}

func prepareConfig(cfg *fluid.AdapterConfiguration) error {
	switch cfg.Action {
	case fluid.ActionRun:
		return nil
	case fluid.ActionGet, fluid.ActionExecute, fluid.ActionUpdate:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, cfg.Action)
	}

	if cfg.Adapter == nil {
		return fmt.Errorf("%w for %s action", ErrNoAdapter, cfg.Action)
	}
	if e, ok := cfg.Adapter.(interface{ Err() error }); ok && e.Err() != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, e.Err())
	}

	if cfg.Action == fluid.ActionUpdate {
		if cfg.DataSet == nil || !cfg.DataSet.Contains(cfg.TableName) {
			return fmt.Errorf("%w: %s", ErrTableNotFound, cfg.TableName)
		}
		for _, p := range cfg.Parameters {
			for _, cmd := range cfg.Adapter.MutationCommands() {
				cmd.SetValue(p.Name, p.Value)
			}
		}
		return nil
	}

	sel := cfg.Adapter.SelectCommand()
	if sel == nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, fluid.ErrNoSelectCommand)
	}
	if cfg.Action == fluid.ActionGet && cfg.DataSet == nil {
		return fmt.Errorf("%w: get action without dataset", ErrConfiguration)
	}
	// параметры, которых нет в команде, пропускаются
	for _, p := range cfg.Parameters {
		sel.SetValue(p.Name, p.Value)
	}
	return nil
}

func (b *batch) commands(cfg *fluid.AdapterConfiguration) []*fluid.Command {
	if cfg == nil || cfg.Adapter == nil {
		return nil
	}
	switch cfg.Action {
	case fluid.ActionGet, fluid.ActionExecute:
		if sel := cfg.Adapter.SelectCommand(); sel != nil {
			return []*fluid.Command{sel}
		}
	case fluid.ActionUpdate:
		return cfg.Adapter.MutationCommands()
	}
	return nil
}

func (b *batch) bind(e fluid.Executor, timeout time.Duration) {
	for _, cfg := range b.configs {
		for _, cmd := range b.commands(cfg) {
			cmd.Bind(e, timeout)
		}
	}
}

// unprepare снимает привязку всех команд. Повторный вызов безопасен.
func (b *batch) unprepare() {
	for _, cfg := range b.configs {
		if cfg == nil || cfg.Adapter == nil {
			continue
		}
		if sel := cfg.Adapter.SelectCommand(); sel != nil {
			sel.Unbind()
		}
		for _, cmd := range cfg.Adapter.MutationCommands() {
			cmd.Unbind()
		}
	}
}

func (b *batch) run(ctx context.Context) error {
	for _, p := range passes(b.svc.PerformOrder()) {
		if err := b.pass(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) pass(ctx context.Context, p pass) error {
	n := len(b.configs)
	for i := 0; i < n; i++ {
		idx := i
		if p == passDelete {
			idx = n - 1 - i
		}
		cfg := b.configs[idx]
		if err := b.apply(ctx, cfg, p); err != nil {
			return inTable(cfg.TableName, err)
		}
	}
	return nil
}

func (b *batch) debug(cfg *fluid.AdapterConfiguration, p pass) *zerolog.Event {
	return b.svc.log.Debug().
		Str("dialect", b.svc.dialect.Name()).
		Str("table", cfg.TableName).
		Str("action", cfg.Action.String()).
		Str("pass", p.String())
}

// step пишет запись аудита одной конфигурации
func (b *batch) step(ctx context.Context, op audit.Operation, cfg *fluid.AdapterConfiguration, p pass, start time.Time, n int, err error) {
	entry := b.svc.auditEntry(op, audit.StatusSuccess, time.Since(start), err).
		WithTable(cfg.TableName).
		WithRecordsAffected(int64(n)).
		WithMetadata("pass", p.String())
	b.svc.writeAudit(ctx, entry)
}

func (b *batch) apply(ctx context.Context, cfg *fluid.AdapterConfiguration, p pass) error {
	if cfg.Action == fluid.ActionUpdate {
		n, err := b.sync(ctx, cfg, p)
		if err != nil {
			return err
		}
		b.debug(cfg, p).Int("rows", n).Msg("rows persisted")
		return nil
	}

	if cfg.Priority != p.priority() {
		return nil
	}

	start := time.Now()
	switch cfg.Action {
	case fluid.ActionGet:
		n, err := cfg.Adapter.Fill(ctx, cfg.DataSet, cfg.TableName)
		b.step(ctx, audit.OpFill, cfg, p, start, n, err)
		if err != nil {
			return err
		}
		b.affected += n
		b.debug(cfg, p).Int("rows", n).Msg("table filled")
		return checkExpected(cfg, n)
	case fluid.ActionExecute:
		n, err := cfg.Adapter.Execute(ctx)
		b.step(ctx, audit.OpExecute, cfg, p, start, n, err)
		if err != nil {
			return err
		}
		b.affected += n
		b.debug(cfg, p).Int("rows", n).Msg("command executed")
		return checkExpected(cfg, n)
	case fluid.ActionRun:
		if cfg.Command == nil {
			return nil
		}
		ok, err := cfg.Command(ctx)
		if err == nil && !ok {
			err = ErrCustomCommandFailed
		}
		b.step(ctx, audit.OpRun, cfg, p, start, 0, err)
		if err != nil {
			return err
		}
		b.debug(cfg, p).Msg("custom command done")
	}
	return nil
}

func (b *batch) sync(ctx context.Context, cfg *fluid.AdapterConfiguration, p pass) (int, error) {
	t, ok := cfg.DataSet.Table(cfg.TableName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, cfg.TableName)
	}

	var rows []*dataset.Row
	for _, r := range t.Select(p.states()) {
		if _, done := b.persisted[r]; !done {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	n, err := cfg.Adapter.Sync(ctx, rows)
	if err == nil && n != len(rows) {
		err = fmt.Errorf("%w: %d of %d rows", ErrChangesNotPersisted, n, len(rows))
	}
	b.step(ctx, audit.OpSync, cfg, p, start, n, err)
	if err != nil {
		return n, err
	}

	for _, r := range rows {
		b.persisted[r] = struct{}{}
	}
	b.synced = append(b.synced, rows...)
	b.affected += n
	b.svc.metrics.addRows(b.svc.dialect.Name(), cfg.TableName, p.String(), n)
	return n, nil
}

// accept подтверждает сохраненные строки
func (b *batch) accept() {
	for _, r := range b.synced {
		r.AcceptChanges()
		delete(b.persisted, r)
	}
}

// forget снимает отметку отправки: строки остаются в прежнем состоянии
func (b *batch) forget() {
	for _, r := range b.synced {
		delete(b.persisted, r)
	}
}

func checkExpected(cfg *fluid.AdapterConfiguration, n int) error {
	if cfg.ExpectedRows == nil || *cfg.ExpectedRows == n {
		return nil
	}
	return fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedRowCount, *cfg.ExpectedRows, n)
}
