// Package dataservice выполняет пакеты конфигураций адаптеров (Perform)
// на одном соединении: два прохода, изменения и удаления, при необходимости
// в одной транзакции. Глобальный режим держит соединение и транзакцию между
// вызовами Perform (MultiplePerform, OpenGlobalConnection) и позволяет
// разделить их с другими сервисами того же диалекта.
//
// Service не безопасен для конкурентного использования: команды адаптеров
// привязываются к соединению на время Perform.
package dataservice

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/fluidsql/pkg/audit"
	"github.com/ruslano69/fluidsql/pkg/clientctx"
	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/resilience"
)

// Mode - откуда берется соединение
type Mode int

const (
	// ModeOwned - соединение открывается и закрывается каждым Perform
	ModeOwned Mode = iota
	// ModeGlobal - соединение и транзакция живут между вызовами
	ModeGlobal
)

func (m Mode) String() string {
	if m == ModeGlobal {
		return "global"
	}
	return "owned"
}

// globalState - соединение глобального режима. Разделяется между сервисами
// через ShareGlobalConnectivity и Inherit.
type globalState struct {
	Connectivity
	// owned - соединение открыл сервис, а не вызывающий (NewGlobal)
	owned         bool
	forceRollback bool
	// pending - сохраненные строки, которые подтверждаются после фиксации
	pending   []*dataset.Row
	persisted map[*dataset.Row]struct{}
}

func newGlobalState(c Connectivity, owned bool) *globalState {
	return &globalState{
		Connectivity: c,
		owned:        owned,
		persisted:    make(map[*dataset.Row]struct{}),
	}
}

func (g *globalState) open() bool {
	return g != nil && g.Conn != nil
}

// defersAcceptance - строки подтверждаются только при фиксации транзакции сервиса
func (g *globalState) defersAcceptance() bool {
	return g.owned && g.Tx != nil
}

func (g *globalState) acceptPending() {
	for _, r := range g.pending {
		r.AcceptChanges()
	}
	g.discardPending()
}

func (g *globalState) discardPending() {
	g.pending = nil
	g.persisted = make(map[*dataset.Row]struct{})
}

// Service - движок Perform одного диалекта
type Service struct {
	dialect dialect.Dialect
	mode    Mode

	connectionString string
	commandTimeout   *time.Duration
	useTransaction   *bool
	performOrder     *clientctx.PerformOrder
	props            clientctx.Properties

	opener  Opener
	breaker *resilience.Breaker
	retry   *resilience.Retryer
	log     zerolog.Logger
	audit   audit.Logger
	metrics *Metrics

	global *globalState
}

// Option - настройка сервиса
type Option func(*Service)

// WithProperties заменяет настройки клиента, прочитанные из clientctx.Default()
func WithProperties(p clientctx.Properties) Option {
	return func(s *Service) { s.props = p }
}

func WithConnectionString(cs string) Option {
	return func(s *Service) { s.connectionString = cs }
}

// WithCommandTimeout - таймаут команд, 0 - без таймаута
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Service) { s.commandTimeout = &d }
}

func WithPerformOrder(o clientctx.PerformOrder) Option {
	return func(s *Service) { s.performOrder = &o }
}

// WithTransaction задает политику транзакций явно. Без нее транзакция
// открывается, если в пакете есть Execute или Update.
func WithTransaction(use bool) Option {
	return func(s *Service) { s.useTransaction = &use }
}

func WithOpener(o Opener) Option {
	return func(s *Service) { s.opener = o }
}

// WithBreaker защищает открытие соединений предохранителем
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithRetry повторяет неудачное открытие соединения. Команды не повторяются.
func WithRetry(r *resilience.Retryer) Option {
	return func(s *Service) { s.retry = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New создает сервис, который открывает соединение на каждый Perform
func New(d dialect.Dialect, opts ...Option) *Service {
	s := &Service{
		dialect: d,
		mode:    ModeOwned,
		props:   clientctx.Default(),
		opener:  DefaultOpener,
		log:     zerolog.Nop(),
		audit:   audit.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGlobal создает сервис поверх соединения и транзакции вызывающего.
// tx может быть nil. Сервис не фиксирует и не откатывает чужую транзакцию.
func NewGlobal(d dialect.Dialect, conn Conn, tx Tx, opts ...Option) *Service {
	s := New(d, opts...)
	s.mode = ModeGlobal
	s.global = newGlobalState(Connectivity{Conn: conn, Tx: tx}, false)
	return s
}

func (s *Service) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Service) Mode() Mode {
	return s.mode
}

// ConnectionString - строка сервиса или строка из настроек клиента
func (s *Service) ConnectionString() string {
	if s.connectionString != "" {
		return s.connectionString
	}
	return s.props.Connection.ConnectionString
}

func (s *Service) SetConnectionString(cs string) {
	s.connectionString = cs
}

// CommandTimeout - таймаут сервиса или таймаут из настроек клиента
func (s *Service) CommandTimeout() time.Duration {
	if s.commandTimeout != nil {
		return *s.commandTimeout
	}
	return s.props.Connection.CommandTimeout
}

func (s *Service) SetCommandTimeout(d time.Duration) {
	s.commandTimeout = &d
}

func (s *Service) PerformOrder() clientctx.PerformOrder {
	if s.performOrder != nil {
		return *s.performOrder
	}
	return s.props.PerformOrder
}

func (s *Service) SetPerformOrder(o clientctx.PerformOrder) {
	s.performOrder = &o
}

// SetUseTransaction задает политику транзакций явно
func (s *Service) SetUseTransaction(use bool) {
	s.useTransaction = &use
}

// ResetUseTransaction возвращает автоопределение транзакции
func (s *Service) ResetUseTransaction() {
	s.useTransaction = nil
}

// Connectivity - соединение глобального режима, пустое в режиме Owned
func (s *Service) Connectivity() Connectivity {
	if !s.global.open() {
		return Connectivity{}
	}
	return s.global.Connectivity
}

func (s *Service) source() dialect.Source {
	return s.dialect.Describe(s.ConnectionString())
}

func (s *Service) performError(stage string, err error) error {
	src := s.source()
	pe := &PerformError{Stage: stage, DataSource: src.DataSource, Database: src.Database, Err: err}
	var te *tableError
	if errors.As(err, &te) {
		pe.Table = te.table
		pe.Err = te.err
	}
	return pe
}

func (s *Service) checkDialect(other *Service) error {
	if other == nil {
		return fmt.Errorf("%w: no service", ErrNotGlobal)
	}
	if other.dialect.Name() != s.dialect.Name() {
		return fmt.Errorf("%w: %s and %s", ErrDialectMismatch, s.dialect.Name(), other.dialect.Name())
	}
	return nil
}

// Inherit копирует все настройки и соединение другого сервиса того же диалекта
func (s *Service) Inherit(other *Service) error {
	if err := s.checkDialect(other); err != nil {
		return err
	}
	*s = *other
	return nil
}
