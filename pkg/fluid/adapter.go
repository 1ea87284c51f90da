// Package fluid строит команды SELECT/INSERT/UPDATE/DELETE для одного диалекта
// цепочкой вызовов (Adapter) и описывает единицы работы для движка Perform.
//
// Ошибки построения не прерывают цепочку: первая ошибка запоминается
// и возвращается из Err(). Движок отклоняет конфигурацию с такой ошибкой.
package fluid

import (
	"fmt"
	"strings"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Connector - логическая связка условий
type Connector string

const (
	And Connector = "AND"
	Or  Connector = "OR"
)

// Adapter - построитель команд одной таблицы
type Adapter struct {
	*DataAdapter

	conditionStart bool
	typeHinting    map[dataset.Kind]dialect.Hint
	fieldHinting   map[string]dialect.Hint
	err            error
}

// New создает построитель для диалекта
func New(d dialect.Dialect) *Adapter {
	return &Adapter{
		DataAdapter:  NewDataAdapter(d),
		typeHinting:  d.TypeHints(),
		fieldHinting: make(map[string]dialect.Hint),
	}
}

// Dialect возвращает диалект построителя
func (a *Adapter) Dialect() dialect.Dialect {
	return a.dialect
}

// Err возвращает первую ошибку построения
func (a *Adapter) Err() error {
	return a.err
}

func (a *Adapter) fail(err error) *Adapter {
	if a.err == nil {
		a.err = err
	}
	return a
}

type buildOptions struct {
	alias      string
	schema     string
	mapping    string
	dbTable    string
	selectCols []string
	whereCols  []string
}

// Option - настройка CreateSelect и CreateUpdate
type Option func(*buildOptions)

// WithAlias задает псевдоним таблицы в SELECT
func WithAlias(alias string) Option {
	return func(o *buildOptions) { o.alias = alias }
}

// WithSchema квалифицирует таблицу схемой
func WithSchema(schema string) Option {
	return func(o *buildOptions) { o.schema = schema }
}

// WithDataSetTable - таблица набора, которую заполняет выборка
func WithDataSetTable(name string) Option {
	return func(o *buildOptions) { o.mapping = name }
}

// WithDBTable - таблица БД, если она называется иначе, чем таблица набора
func WithDBTable(name string) Option {
	return func(o *buildOptions) { o.dbTable = name }
}

// WithSelectColumns ограничивает колонки выборки и изменения
func WithSelectColumns(columns ...string) Option {
	return func(o *buildOptions) { o.selectCols = columns }
}

// WithWhereColumns ограничивает колонки условия оптимистичной блокировки
func WithWhereColumns(columns ...string) Option {
	return func(o *buildOptions) { o.whereCols = columns }
}

func collect(opts []Option) buildOptions {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CreateSelect строит SELECT по таблице БД. Пустой список колонок дает "*".
func (a *Adapter) CreateSelect(table string, columns []string, opts ...Option) *Adapter {
	o := collect(opts)
	d := a.dialect

	text := "SELECT " + a.selectList(columns, o.alias) +
		" FROM " + dialect.QualifiedName(d, o.schema, table) + d.TableAlias(o.alias)

	a.Select = NewCommand(d, text)
	a.TableMapping = o.mapping
	if a.TableMapping == "" {
		a.TableMapping = unqualified(table)
	}
	a.conditionStart = true
	return a
}

// CreateSelectFor - CreateSelect по таблице набора
func (a *Adapter) CreateSelectFor(t *dataset.Table, columns []string, opts ...Option) *Adapter {
	if t == nil {
		return a.fail(ErrNoColumns)
	}
	return a.CreateSelect(t.Name, columns, append([]Option{WithDataSetTable(t.Name)}, opts...)...)
}

// CreateSelectText принимает готовый текст запроса. Первое условие идет через WHERE,
// для текста, уже содержащего свой WHERE, вызовите ContinueWhere.
func (a *Adapter) CreateSelectText(text, dataSetTable string) *Adapter {
	a.Select = NewCommand(a.dialect, text)
	a.TableMapping = dataSetTable
	a.conditionStart = true
	return a
}

// ContinueWhere - следующие условия дописываются через AND/OR к WHERE текста
func (a *Adapter) ContinueWhere() *Adapter {
	if err := a.selectText(); err != nil {
		return a.fail(err)
	}
	a.conditionStart = false
	return a
}

// CreateSelectProcedure - выборка хранимой процедурой. Параметры добавляются SetParameter.
func (a *Adapter) CreateSelectProcedure(name, dataSetTable string) *Adapter {
	a.Select = NewCommand(a.dialect, name)
	a.Select.Kind = StoredProcedure
	a.TableMapping = dataSetTable
	a.conditionStart = false
	return a
}

// CreateExecute - команда без результата для ActionExecute
func (a *Adapter) CreateExecute(text string) *Adapter {
	return a.CreateSelectText(text, "")
}

// Fragment дописывает произвольный текст к выборке
func (a *Adapter) Fragment(text string) *Adapter {
	if err := a.selectText(); err != nil {
		return a.fail(err)
	}
	a.Select.Text += " " + strings.TrimSpace(text)
	return a
}

// SetCondition добавляет условие. Первое условие после CreateSelect всегда идет через WHERE.
func (a *Adapter) SetCondition(text string, connector ...Connector) *Adapter {
	if err := a.selectText(); err != nil {
		return a.fail(err)
	}
	kw := And
	if len(connector) > 0 && connector[0] != "" {
		kw = connector[0]
	}
	if a.conditionStart {
		kw = "WHERE"
		a.conditionStart = false
	}
	a.Select.Text += " " + string(kw) + " " + text
	return a
}

type condition struct {
	kind       dataset.Kind
	kindSet    bool
	hint       *dialect.Hint
	connector  Connector
	comparison string
	alias      string
	inject     bool
}

// ConditionOption - настройка SetFieldCondition и Selector.SetParameter
type ConditionOption func(*condition)

// OfKind задает вид значения параметра
func OfKind(k dataset.Kind) ConditionOption {
	return func(c *condition) { c.kind, c.kindSet = k, true }
}

// WithHint задает тип параметра явно
func WithHint(h dialect.Hint) ConditionOption {
	return func(c *condition) { c.hint = &h }
}

func WithConnector(conn Connector) ConditionOption {
	return func(c *condition) { c.connector = conn }
}

// WithComparison меняет оператор сравнения, по умолчанию "="
func WithComparison(op string) ConditionOption {
	return func(c *condition) { c.comparison = op }
}

// WithFieldAlias квалифицирует поле псевдонимом таблицы
func WithFieldAlias(alias string) ConditionOption {
	return func(c *condition) { c.alias = alias }
}

// NoInject - Selector только регистрирует параметр, не добавляя условие
func NoInject() ConditionOption {
	return func(c *condition) { c.inject = false }
}

func conditions(opts []ConditionOption) condition {
	c := condition{kind: dataset.KindAny, connector: And, comparison: "=", inject: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// SetFieldCondition добавляет условие "поле оператор параметр" и регистрирует параметр
func (a *Adapter) SetFieldCondition(field, placeholder string, opts ...ConditionOption) *Adapter {
	if err := a.selectText(); err != nil {
		return a.fail(err)
	}
	c := conditions(opts)
	hint, err := a.resolveHint(field, c)
	if err != nil {
		return a.fail(fmt.Errorf("field %s: %w", field, err))
	}
	name := a.placeholder(placeholder)
	a.SetCondition(a.fieldRef(field, c.alias)+" "+c.comparison+" "+name, c.connector)
	a.Select.AddParameter(&Parameter{Name: name, Kind: c.kind, Hint: hint})
	return a
}

// SetParameter регистрирует параметр выборки без изменения текста
func (a *Adapter) SetParameter(name string, kind dataset.Kind) *Adapter {
	return a.registerParameter(name, conditions([]ConditionOption{OfKind(kind)}))
}

// SetParameterHint регистрирует параметр с явным типом
func (a *Adapter) SetParameterHint(name string, hint dialect.Hint) *Adapter {
	return a.registerParameter(name, conditions([]ConditionOption{WithHint(hint)}))
}

func (a *Adapter) registerParameter(name string, c condition) *Adapter {
	if a.Select == nil {
		return a.fail(ErrNoSelectCommand)
	}
	hint, err := a.resolveHint(strings.TrimPrefix(name, a.dialect.ParameterPrefix()), c)
	if err != nil {
		return a.fail(fmt.Errorf("parameter %s: %w", name, err))
	}
	a.Select.AddParameter(&Parameter{Name: a.placeholder(name), Kind: c.kind, Hint: hint})
	return a
}

// AddFieldHint задает тип для поля. Подсказка поля важнее таблицы типов диалекта.
func (a *Adapter) AddFieldHint(field, nativeType string, size ...int) *Adapter {
	h := dialect.Hint{NativeType: nativeType}
	if len(size) > 0 {
		h.Size = size[0]
	}
	a.fieldHinting[strings.ToLower(field)] = h
	return a
}

// resolveHint: явная подсказка, подсказка поля, таблица типов, подсказка по умолчанию
func (a *Adapter) resolveHint(field string, c condition) (dialect.Hint, error) {
	if c.hint != nil {
		return *c.hint, nil
	}
	if h, ok := a.fieldHinting[strings.ToLower(field)]; ok {
		return h, nil
	}
	if c.kindSet && c.kind != dataset.KindAny {
		if h, ok := a.typeHinting[c.kind]; ok {
			return h, nil
		}
		return dialect.Hint{}, fmt.Errorf("%w: %s", ErrUnsupportedType, c.kind)
	}
	for _, h := range a.typeHinting {
		if h.IsDefault {
			return h, nil
		}
	}
	return dialect.Hint{}, fmt.Errorf("%w: %s", ErrUnsupportedType, c.kind)
}

func (a *Adapter) columnHint(col *dataset.Column) (dialect.Hint, error) {
	return a.resolveHint(col.Name, condition{kind: col.Kind, kindSet: true})
}

// CreateUpdate строит все четыре команды по схеме таблицы набора
func (a *Adapter) CreateUpdate(t *dataset.Table, opts ...Option) *Adapter {
	if t == nil || len(t.Columns()) == 0 {
		return a.fail(ErrNoColumns)
	}
	o := collect(opts)
	d := a.dialect

	dbTable := o.dbTable
	if dbTable == "" {
		dbTable = t.Name
	}
	qt := dialect.QualifiedName(d, o.schema, dbTable)

	selectCols, err := pickColumns(t, o.selectCols)
	if err != nil {
		return a.fail(err)
	}
	whereCols, err := pickColumns(t, o.whereCols)
	if err != nil {
		return a.fail(err)
	}
	list := a.columnList(selectCols)

	a.Select = NewCommand(d, "SELECT "+list+" FROM "+qt)
	a.TableMapping = o.mapping
	if a.TableMapping == "" {
		a.TableMapping = t.Name
	}
	a.conditionStart = true

	var writable []*dataset.Column
	for _, c := range selectCols {
		if !c.AutoIncrement {
			writable = append(writable, c)
		}
	}

	// INSERT
	ins := NewCommand(d, "")
	if len(writable) == 0 {
		ins.Text = d.DefaultValuesInsert(qt)
	} else {
		names := make([]string, 0, len(writable))
		values := make([]string, 0, len(writable))
		for _, c := range writable {
			p, err := a.columnParameter(ins, c, dataset.Current)
			if err != nil {
				return a.fail(err)
			}
			names = append(names, d.QuoteIdentifier(c.Name))
			values = append(values, p.Name)
		}
		ins.Text = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qt, strings.Join(names, ", "), strings.Join(values, ", "))
	}
	if ins.ExtraSelect, err = a.extraSelect(t, ins, qt, list, true); err != nil {
		return a.fail(err)
	}
	a.Insert = ins

	// UPDATE
	a.Update = nil
	if len(writable) > 0 {
		upd := NewCommand(d, "")
		sets := make([]string, 0, len(writable))
		for _, c := range writable {
			p, err := a.columnParameter(upd, c, dataset.Current)
			if err != nil {
				return a.fail(err)
			}
			sets = append(sets, d.QuoteIdentifier(c.Name)+" = "+p.Name)
		}
		where, err := a.optimisticPredicate(upd, whereCols)
		if err != nil {
			return a.fail(err)
		}
		upd.Text = fmt.Sprintf("UPDATE %s SET %s WHERE %s", qt, strings.Join(sets, ", "), where)
		if upd.ExtraSelect, err = a.extraSelect(t, upd, qt, list, false); err != nil {
			return a.fail(err)
		}
		a.Update = upd
	}

	// DELETE
	del := NewCommand(d, "")
	where, err := a.optimisticPredicate(del, whereCols)
	if err != nil {
		return a.fail(err)
	}
	del.Text = fmt.Sprintf("DELETE FROM %s WHERE %s", qt, where)
	a.Delete = del

	return a
}

// optimisticPredicate - совпадение по исходным значениям, для NULL-колонок с учетом NULL
func (a *Adapter) optimisticPredicate(cmd *Command, cols []*dataset.Column) (string, error) {
	terms := make([]string, 0, len(cols))
	for _, c := range cols {
		p, err := a.columnParameter(cmd, c, dataset.Original)
		if err != nil {
			return "", err
		}
		q := a.dialect.QuoteIdentifier(c.Name)
		if c.AllowNull {
			terms = append(terms, fmt.Sprintf("((%s IS NULL AND %s IS NULL) OR (%s = %s))", p.Name, q, q, p.Name))
		} else {
			terms = append(terms, fmt.Sprintf("(%s = %s)", q, p.Name))
		}
	}
	return strings.Join(terms, " AND "), nil
}

// extraSelect - повторная выборка строки по единственному ключу, "" для составного или отсутствующего ключа
func (a *Adapter) extraSelect(t *dataset.Table, cmd *Command, qt, list string, insert bool) (string, error) {
	pk := t.PrimaryKey()
	if len(pk) != 1 {
		return "", nil
	}
	key := pk[0]
	q := a.dialect.QuoteIdentifier(key.Name)

	var match string
	if insert && key.AutoIncrement {
		id := a.dialect.LastInsertID()
		if id == "" {
			return "", nil
		}
		match = q + " = " + id
	} else {
		p, err := a.columnParameter(cmd, key, dataset.Current)
		if err != nil {
			return "", err
		}
		match = q + " = " + p.Name
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE (%s)", list, qt, match), nil
}

// columnParameter возвращает параметр колонки, создавая его при необходимости
func (a *Adapter) columnParameter(cmd *Command, c *dataset.Column, version dataset.Version) (*Parameter, error) {
	name := a.dialect.ParameterName(c.Name, version)
	if p, ok := cmd.Parameter(name); ok {
		return p, nil
	}
	hint, err := a.columnHint(c)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", c.Name, err)
	}
	return cmd.AddParameter(&Parameter{
		Name:         name,
		Kind:         c.Kind,
		Hint:         hint,
		SourceColumn: c.Name,
		Version:      version,
	}), nil
}

func pickColumns(t *dataset.Table, names []string) ([]*dataset.Column, error) {
	if len(names) == 0 {
		return t.Columns(), nil
	}
	out := make([]*dataset.Column, 0, len(names))
	for _, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", dataset.ErrColumnNotFound, t.Name, n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *Adapter) columnList(cols []*dataset.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = a.dialect.QuoteIdentifier(c.Name)
	}
	return strings.Join(names, ", ")
}

// selectList квотирует колонки. Выражения с "(" или "*" остаются как есть.
func (a *Adapter) selectList(columns []string, alias string) string {
	if len(columns) == 0 {
		if alias != "" {
			return alias + ".*"
		}
		return "*"
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		switch {
		case strings.ContainsAny(c, "(*"):
			out[i] = c
		case alias != "":
			out[i] = alias + "." + a.dialect.QuoteIdentifier(c)
		default:
			out[i] = a.dialect.QuoteIdentifier(c)
		}
	}
	return strings.Join(out, ", ")
}

// fieldRef: "a.Name" квотируется как a.[Name]
func (a *Adapter) fieldRef(field, alias string) string {
	if i := strings.LastIndexByte(field, '.'); i > 0 && alias == "" {
		alias, field = field[:i], field[i+1:]
	}
	q := a.dialect.QuoteIdentifier(field)
	if alias != "" {
		return alias + "." + q
	}
	return q
}

func (a *Adapter) placeholder(name string) string {
	prefix := a.dialect.ParameterPrefix()
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

func (a *Adapter) selectText() error {
	if a.Select == nil {
		return ErrNoSelectCommand
	}
	if a.Select.Kind == StoredProcedure {
		return fmt.Errorf("%w: %s is a stored procedure", ErrNoSelectCommand, a.Select.Text)
	}
	return nil
}

func unqualified(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}
