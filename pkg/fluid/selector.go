package fluid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

var nonParameterChars = regexp.MustCompile(`[^\p{L}\p{N}_.]`)

// Selector - построитель выборки, который помнит значения параметров
// и собирает из них конфигурацию Get.
type Selector struct {
	adapter *Adapter
	params  []ParameterInfo
}

// NewSelector оборачивает построитель с уже созданной выборкой
func NewSelector(a *Adapter) *Selector {
	return &Selector{adapter: a}
}

// NewTableSelector - выборка колонок таблицы, без колонок "SELECT *"
func NewTableSelector(d dialect.Dialect, table string, columns ...string) *Selector {
	return NewSelector(New(d).CreateSelect(table, columns))
}

func (s *Selector) Adapter() *Adapter {
	return s.adapter
}

func (s *Selector) Err() error {
	return s.adapter.Err()
}

// Parameters - значения параметров в порядке добавления
func (s *Selector) Parameters() []ParameterInfo {
	return append([]ParameterInfo(nil), s.params...)
}

// SetParameter запоминает значение параметра и по умолчанию добавляет условие
// "поле = параметр". Вид значения берется из OfKind/WithHint или из самого значения.
func (s *Selector) SetParameter(name string, value any, opts ...ConditionOption) *Selector {
	field := strings.TrimSpace(name)
	clean := sanitizeParameter(field)
	if clean == "" {
		s.adapter.fail(ErrUndefinedParameter)
		return s
	}

	c := conditions(opts)
	if !c.kindSet && c.hint == nil {
		if IsNull(value) {
			s.adapter.fail(fmt.Errorf("%w: %s", ErrUndefinedType, field))
			return s
		}
		k, ok := dataset.KindOf(value)
		if !ok {
			s.adapter.fail(fmt.Errorf("%w: %s (%T)", ErrUnsupportedType, field, value))
			return s
		}
		opts = append(opts, OfKind(k))
		c.kind, c.kindSet = k, true
	}

	d := s.adapter.Dialect()
	param := d.ParameterName(clean, dataset.Current)
	s.params = append(s.params, NewParameterInfo(param, value))

	if c.inject {
		s.adapter.SetFieldCondition(field, param, opts...)
	} else {
		s.adapter.registerParameter(param, c)
	}
	return s
}

// SetCondition добавляет условие к выборке
func (s *Selector) SetCondition(text string, connector ...Connector) *Selector {
	s.adapter.SetCondition(text, connector...)
	return s
}

// Fragment дописывает текст к выборке
func (s *Selector) Fragment(text string) *Selector {
	s.adapter.Fragment(text)
	return s
}

// Configuration - конфигурация Get с накопленными параметрами.
// Без имени таблицы заполняется таблица выборки.
func (s *Selector) Configuration(ds *dataset.DataSet, table ...string) *AdapterConfiguration {
	name := s.adapter.TableMapping
	if len(table) > 0 && table[0] != "" {
		name = table[0]
	}
	return NewAdapterConfiguration(ds, name, s.adapter, ActionGet, WithParameters(s.Parameters()...))
}

// sanitizeParameter оставляет буквы, цифры и "_"; точка квалификатора тоже становится "_"
func sanitizeParameter(name string) string {
	return strings.ReplaceAll(nonParameterChars.ReplaceAllString(name, ""), ".", "_")
}
