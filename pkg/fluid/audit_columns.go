package fluid

import (
	"time"

	"github.com/ruslano69/fluidsql/pkg/dataset"
)

// Колонки аудита, которые заполняет StampAudit
const (
	AuditUserColumn        = "AuditUser"
	AuditDateColumn        = "AuditDate"
	AuditWorkStationColumn = "AuditWorkStation"
)

// AuditStamp - кто и когда меняет строки
type AuditStamp struct {
	User        string
	WorkStation string
	At          time.Time
	// Force - отметить и неизмененные строки
	Force bool
}

// StampAudit заполняет колонки аудита в добавленных и измененных строках.
// Отсутствующие колонки пропускаются. Возвращает число отмеченных строк.
func StampAudit(t *dataset.Table, stamp AuditStamp) (int, error) {
	if stamp.At.IsZero() {
		stamp.At = time.Now()
	}

	values := map[string]any{
		AuditUserColumn:        stamp.User,
		AuditDateColumn:        stamp.At,
		AuditWorkStationColumn: stamp.WorkStation,
	}
	var present []string
	for name := range values {
		if _, ok := t.Column(name); ok {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return 0, nil
	}

	mask := dataset.Added | dataset.Modified
	if stamp.Force {
		mask |= dataset.Unchanged
	}

	n := 0
	for _, r := range t.Select(mask) {
		for _, name := range present {
			if err := r.Set(name, values[name]); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}
