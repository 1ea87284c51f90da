package dataservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruslano69/fluidsql/pkg/audit"
)

// ErrNoTransaction - у глобального соединения нет открытой транзакции
var ErrNoTransaction = errors.New("global transaction is not open")

// MultipleFunc - тело MultiplePerform. false откатывает транзакцию.
type MultipleFunc func(ctx context.Context, s *Service) (bool, error)

// MultiplePerform открывает глобальное соединение (и транзакцию, если
// политика не запрещает ее явно), выполняет fn и фиксирует транзакцию.
// Ошибка fn, результат false или ошибка фиксации откатывают транзакцию.
// ForceRollback внутри fn откатывает транзакцию без ошибки.
// Соединение закрывается всегда, сервис возвращается в режим Owned.
func (s *Service) MultiplePerform(ctx context.Context, fn MultipleFunc) error {
	start := time.Now()
	status, err := s.multiplePerform(ctx, fn)
	if err != nil {
		err = s.performError("MultiplePerform", err)
		status = audit.StatusFailure
	}
	s.record(ctx, audit.OpMultiplePerform, start, nil, status, err)
	return err
}

func (s *Service) multiplePerform(ctx context.Context, fn MultipleFunc) (audit.Status, error) {
	if s.global.open() {
		return "", ErrAlreadyGlobal
	}
	withTx := s.useTransaction == nil || *s.useTransaction
	c, err := s.open(ctx, withTx)
	if err != nil {
		return "", err
	}
	s.enterGlobal(c)
	defer s.leaveGlobal()

	ok, err := fn(ctx, s)
	if err == nil && !ok {
		err = ErrCustomCommandFailed
	}
	g := s.global
	if err != nil {
		s.rollback(g.Tx, err)
		g.Tx = nil
		g.discardPending()
		return "", err
	}

	if g.Tx == nil {
		g.acceptPending()
		return audit.StatusSuccess, nil
	}
	if g.forceRollback {
		s.rollback(g.Tx, errors.New("forced rollback"))
		g.Tx = nil
		g.discardPending()
		return audit.StatusRolledBack, nil
	}
	if err := s.commitGlobal(); err != nil {
		return "", err
	}
	return audit.StatusSuccess, nil
}

func (s *Service) enterGlobal(c Connectivity) {
	s.mode = ModeGlobal
	s.global = newGlobalState(c, true)
}

// leaveGlobal закрывает соединение. Сервисы, разделяющие его, видят закрытое соединение.
func (s *Service) leaveGlobal() {
	if g := s.global; g != nil {
		if g.Tx != nil {
			s.rollback(g.Tx, errors.New("connection closed with open transaction"))
		}
		s.closeConn(g.Conn)
		g.Connectivity = Connectivity{}
		g.forceRollback = false
		g.discardPending()
	}
	s.global = nil
	s.mode = ModeOwned
}

// OpenGlobalConnection открывает соединение с транзакцией, которое
// используют все следующие Perform до CloseGlobalConnection.
func (s *Service) OpenGlobalConnection(ctx context.Context) error {
	if s.global.open() {
		return ErrAlreadyGlobal
	}
	c, err := s.open(ctx, true)
	if err != nil {
		return err
	}
	s.enterGlobal(c)
	return nil
}

// CommitGlobalTransaction фиксирует глобальную транзакцию и подтверждает
// сохраненные в ней строки. Соединение остается открытым.
func (s *Service) CommitGlobalTransaction() error {
	if !s.global.open() {
		return ErrNotGlobal
	}
	if s.global.Tx == nil {
		return ErrNoTransaction
	}
	return s.commitGlobal()
}

func (s *Service) commitGlobal() error {
	g := s.global
	tx := g.Tx
	g.Tx = nil
	if err := tx.Commit(); err != nil {
		g.discardPending()
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info().Str("dialect", s.dialect.Name()).Int("rows", len(g.pending)).Msg("global transaction committed")
	g.acceptPending()
	return nil
}

// RollbackGlobalTransaction откатывает глобальную транзакцию. Строки
// сохраняют свои изменения и могут быть отправлены снова.
func (s *Service) RollbackGlobalTransaction() error {
	if !s.global.open() {
		return ErrNotGlobal
	}
	g := s.global
	if g.Tx == nil {
		return ErrNoTransaction
	}
	tx := g.Tx
	g.Tx = nil
	g.discardPending()
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	s.log.Warn().Str("dialect", s.dialect.Name()).Msg("global transaction rolled back")
	return nil
}

// CloseGlobalConnection закрывает глобальное соединение (незафиксированная
// транзакция откатывается) и возвращает сервис в режим Owned.
func (s *Service) CloseGlobalConnection() error {
	if !s.global.open() {
		return ErrNotGlobal
	}
	s.leaveGlobal()
	return nil
}

// ForceRollback помечает глобальную транзакцию для отката в конце MultiplePerform
func (s *Service) ForceRollback() error {
	if !s.global.open() {
		return ErrNotGlobal
	}
	s.global.forceRollback = true
	return nil
}

// RollbackForced - транзакция помечена для отката
func (s *Service) RollbackForced() bool {
	return s.global.open() && s.global.forceRollback
}

// ShareGlobalConnectivity подключает сервис к глобальному соединению other:
// соединение, транзакция, флаг отката, таймаут и порядок проходов общие.
// Владельцем соединения остается other.
func (s *Service) ShareGlobalConnectivity(other *Service) error {
	if err := s.checkDialect(other); err != nil {
		return err
	}
	if !other.global.open() {
		return ErrNotGlobal
	}
	s.mode = ModeGlobal
	s.global = other.global
	timeout := other.CommandTimeout()
	s.commandTimeout = &timeout
	order := other.PerformOrder()
	s.performOrder = &order
	return nil
}
