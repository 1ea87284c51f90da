package audit

import (
	"context"
	"errors"
	"sync"
)

// Appender - получатель записей аудита
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
	Close() error
}

// MultiAppender пишет запись во все получатели, ошибки объединяются
type MultiAppender struct {
	appenders []Appender
}

func NewMultiAppender(appenders ...Appender) *MultiAppender {
	return &MultiAppender{appenders: appenders}
}

func (m *MultiAppender) Append(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, a := range m.appenders {
		if err := a.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiAppender) Close() error {
	var errs []error
	for _, a := range m.appenders {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryAppender хранит копии записей в памяти
type MemoryAppender struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewMemoryAppender() *MemoryAppender {
	return &MemoryAppender{}
}

func (m *MemoryAppender) Append(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry.Clone())
	return nil
}

// Entries возвращает записанные записи
func (m *MemoryAppender) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...)
}

func (m *MemoryAppender) Close() error { return nil }
