package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLoggerClosed - запись после Close
var ErrLoggerClosed = errors.New("audit logger is closed")

// Logger - журнал аудита, который использует сервис данных
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Flush() error
	Close() error
}

// LoggerConfig - настройки AuditLogger
type LoggerConfig struct {
	// AsyncMode - запись в получатели из отдельной горутины
	AsyncMode bool

	// BufferSize - размер очереди асинхронного режима, default 1000
	BufferSize int

	// DefaultUser и DefaultWorkStation подставляются в записи без пользователя
	DefaultUser        string
	DefaultWorkStation string

	// OnError вызывается при ошибке получателя
	OnError func(error)
}

// AuditLogger раздает записи получателям синхронно или через очередь
type AuditLogger struct {
	config    LoggerConfig
	appenders []Appender

	queue  chan *Entry
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
	mu     sync.RWMutex
}

// NewLogger создает журнал
func NewLogger(config LoggerConfig, appenders ...Appender) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	l := &AuditLogger{
		config:    config,
		appenders: appenders,
		done:      make(chan struct{}),
	}
	if config.AsyncMode {
		l.queue = make(chan *Entry, config.BufferSize)
		l.wg.Add(1)
		go l.process()
	}
	return l
}

// Log записывает запись. В асинхронном режиме при полной очереди запись идет синхронно.
func (l *AuditLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit: entry is nil")
	}
	select {
	case <-l.done:
		return ErrLoggerClosed
	default:
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.User == "" {
		entry.User = l.config.DefaultUser
	}
	if entry.WorkStation == "" {
		entry.WorkStation = l.config.DefaultWorkStation
	}

	if l.queue == nil {
		return l.write(ctx, entry)
	}
	select {
	case l.queue <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return l.write(ctx, entry)
	}
}

func (l *AuditLogger) write(ctx context.Context, entry *Entry) error {
	l.mu.RLock()
	appenders := l.appenders
	l.mu.RUnlock()

	var errs []error
	for _, a := range appenders {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
			l.handleError(fmt.Errorf("audit: append %s: %w", entry.Operation, err))
		}
	}
	return errors.Join(errs...)
}

func (l *AuditLogger) process() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.queue:
			l.write(context.Background(), entry)
		case <-l.done:
			// остаток очереди
			for {
				select {
				case entry := <-l.queue:
					l.write(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// AddAppender добавляет получателя
func (l *AuditLogger) AddAppender(a Appender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appenders = append(l.appenders, a)
}

// Flush сбрасывает буферы получателей, которые это умеют
func (l *AuditLogger) Flush() error {
	l.mu.RLock()
	appenders := l.appenders
	l.mu.RUnlock()

	var errs []error
	for _, a := range appenders {
		if f, ok := a.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, err)
				l.handleError(fmt.Errorf("audit: flush: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close дописывает очередь, сбрасывает и закрывает получателей
func (l *AuditLogger) Close() error {
	var err error
	l.closed.Do(func() {
		close(l.done)
		l.wg.Wait()
		flushErr := l.Flush()

		l.mu.RLock()
		appenders := l.appenders
		l.mu.RUnlock()

		errs := []error{flushErr}
		for _, a := range appenders {
			errs = append(errs, a.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}

func (l *AuditLogger) handleError(err error) {
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// NullLogger ничего не записывает
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (NullLogger) Log(context.Context, *Entry) error { return nil }
func (NullLogger) Flush() error                      { return nil }
func (NullLogger) Close() error                      { return nil }
