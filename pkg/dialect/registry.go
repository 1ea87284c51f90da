package dialect

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownDialect - диалект не зарегистрирован
var ErrUnknownDialect = errors.New("unknown dialect")

// Registry - реестр диалектов по имени
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Dialect
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{dialects: make(map[string]Dialect)}
}

// Register регистрирует диалект под его именем, повторная регистрация заменяет прежний
func (r *Registry) Register(d Dialect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialects[d.Name()] = d
}

// Lookup возвращает диалект по имени
func (r *Registry) Lookup(name string) (Dialect, error) {
	r.mu.RLock()
	d, ok := r.dialects[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownDialect, name, r.Names())
	}
	return d, nil
}

// Names возвращает отсортированный список зарегистрированных имен
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ========== Глобальный реестр ==========

var global = NewRegistry()

// Register регистрирует диалект в глобальном реестре.
// Обычно вызывается из init() подпакета диалекта.
func Register(d Dialect) {
	global.Register(d)
}

// Lookup ищет диалект в глобальном реестре
func Lookup(name string) (Dialect, error) {
	return global.Lookup(name)
}

// Names - имена из глобального реестра
func Names() []string {
	return global.Names()
}

// MustLookup - Lookup, паникует при ошибке. Только для main() и тестов.
func MustLookup(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}
