package fluid

import (
	"context"

	"github.com/ruslano69/fluidsql/pkg/dataset"
)

// Action - вид работы конфигурации
type Action int

const (
	ActionNone Action = iota
	// ActionGet заполняет набор командой выборки
	ActionGet
	// ActionExecute выполняет команду выборки без результата
	ActionExecute
	// ActionUpdate синхронизирует изменения таблицы набора
	ActionUpdate
	// ActionRun вызывает Callback
	ActionRun
)

func (a Action) String() string {
	switch a {
	case ActionGet:
		return "get"
	case ActionExecute:
		return "execute"
	case ActionUpdate:
		return "update"
	case ActionRun:
		return "run"
	}
	return "none"
}

// Priority - проход, в котором выполняется конфигурация, отличная от Update
type Priority int

const (
	OnUpdate Priority = iota
	OnDelete
)

func (p Priority) String() string {
	if p == OnDelete {
		return "delete"
	}
	return "update"
}

// Callback - пользовательская команда. false означает неудачу.
type Callback func(ctx context.Context) (bool, error)

// TableAdapter - то, что движок использует из адаптера таблицы
type TableAdapter interface {
	SelectCommand() *Command
	MutationCommands() []*Command
	Fill(ctx context.Context, ds *dataset.DataSet, table string) (int, error)
	Execute(ctx context.Context) (int, error)
	Sync(ctx context.Context, rows []*dataset.Row) (int, error)
}

// AdapterConfiguration - одна единица работы пакета Perform.
// Набор данных не принадлежит конфигурации.
type AdapterConfiguration struct {
	DataSet    *dataset.DataSet
	TableName  string
	Parameters []ParameterInfo
	Action     Action
	Priority   Priority
	Command    Callback
	// ExpectedRows - ожидаемое число строк для Get и Execute, nil - не проверять
	ExpectedRows *int
	Adapter      TableAdapter
}

// ConfigOption - необязательная настройка конфигурации
type ConfigOption func(*AdapterConfiguration)

func WithParameters(params ...ParameterInfo) ConfigOption {
	return func(c *AdapterConfiguration) {
		c.Parameters = append(c.Parameters, params...)
	}
}

func WithPriority(p Priority) ConfigOption {
	return func(c *AdapterConfiguration) {
		c.Priority = p
	}
}

func WithExpectedRows(n int) ConfigOption {
	return func(c *AdapterConfiguration) {
		c.ExpectedRows = &n
	}
}

func WithCommand(fn Callback) ConfigOption {
	return func(c *AdapterConfiguration) {
		c.Command = fn
	}
}

// NewAdapterConfiguration создает конфигурацию. adapter может быть nil только для ActionRun.
func NewAdapterConfiguration(ds *dataset.DataSet, table string, adapter TableAdapter, action Action, opts ...ConfigOption) *AdapterConfiguration {
	c := &AdapterConfiguration{
		DataSet:   ds,
		TableName: table,
		Adapter:   adapter,
		Action:    action,
		Priority:  OnUpdate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunConfiguration - конфигурация пользовательской команды
func RunConfiguration(fn Callback, opts ...ConfigOption) *AdapterConfiguration {
	return NewAdapterConfiguration(nil, "", nil, ActionRun, append([]ConfigOption{WithCommand(fn)}, opts...)...)
}
