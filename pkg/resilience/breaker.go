// Package resilience - предохранитель (circuit breaker) для получения соединений.
// После MaxFailures ошибок подряд вызовы отклоняются с ErrCircuitOpen,
// пока не пройдет Cooldown; затем один пробный вызов решает, закрыться или
// снова открыться. Retryer повторяет открытие соединения с задержкой.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen - предохранитель открыт, вызов не выполнялся
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State - состояние предохранителя
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Config - настройки предохранителя
type Config struct {
	Name string `yaml:"name"`
	// MaxFailures - ошибок подряд до открытия, default 5
	MaxFailures int `yaml:"max_failures"`
	// Cooldown - время в открытом состоянии, default 30s
	Cooldown time.Duration `yaml:"cooldown"`

	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Breaker - предохранитель. Безопасен для конкурентного использования.
type Breaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New создает предохранитель в закрытом состоянии
func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "connection"
	}
	return &Breaker{config: config, now: time.Now}
}

// Name - имя для журналов
func (b *Breaker) Name() string {
	return b.config.Name
}

// State - текущее состояние. Открытый предохранитель после Cooldown считается полуоткрытым.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Execute выполняет fn, если предохранитель пропускает вызов
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.config.Name)
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		// пробный вызов уже идет
		if b.probing {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.config.Name)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}
	// отмену вызывающим не считаем отказом
	if errors.Is(err, context.Canceled) {
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.config.MaxFailures {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil && from != to {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// Reset закрывает предохранитель и сбрасывает счетчик
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
}
