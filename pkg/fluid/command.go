package fluid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect"
)

// Rows - то, что движку нужно от результата запроса. *sql.Rows подходит.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor - соединение или транзакция, к которой привязываются команды
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLExecutor адаптирует *sql.DB, *sql.Conn и *sql.Tx к Executor
func SQLExecutor(q sqlQuerier) Executor {
	return sqlExecutor{q: q}
}

type sqlExecutor struct {
	q sqlQuerier
}

func (e sqlExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.q.ExecContext(ctx, query, args...)
}

func (e sqlExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type columnTyper interface {
	ColumnTypes() ([]*sql.ColumnType, error)
}

// CommandKind - текст или хранимая процедура
type CommandKind int

const (
	CommandText CommandKind = iota
	StoredProcedure
)

// Command - текст команды с параметрами. Привязка к соединению (Bind)
// живет только на время одного Perform.
type Command struct {
	Text   string
	Kind   CommandKind
	Params []*Parameter
	// ExtraSelect - повторная выборка строки после INSERT/UPDATE, "" если не строится
	ExtraSelect string

	dialect  dialect.Dialect
	executor Executor
	timeout  time.Duration
}

// NewCommand создает команду диалекта
func NewCommand(d dialect.Dialect, text string) *Command {
	return &Command{Text: text, dialect: d}
}

// Dialect возвращает диалект команды
func (c *Command) Dialect() dialect.Dialect {
	return c.dialect
}

// FullText - текст вместе с повторной выборкой
func (c *Command) FullText() string {
	if c.ExtraSelect == "" {
		return c.Text
	}
	return c.Text + ";\n" + c.ExtraSelect
}

// Parameter ищет параметр по имени, префикс диалекта можно опустить
func (c *Command) Parameter(name string) (*Parameter, bool) {
	prefix := c.dialect.ParameterPrefix()
	want := strings.TrimPrefix(name, prefix)
	for _, p := range c.Params {
		if strings.EqualFold(strings.TrimPrefix(p.Name, prefix), want) {
			return p, true
		}
	}
	return nil, false
}

// AddParameter добавляет параметр или заменяет одноименный
func (c *Command) AddParameter(p *Parameter) *Parameter {
	if existing, ok := c.Parameter(p.Name); ok {
		*existing = *p
		return existing
	}
	c.Params = append(c.Params, p)
	return p
}

// SetValue задает значение параметра по имени. false - параметра нет.
func (c *Command) SetValue(name string, value any) bool {
	p, ok := c.Parameter(name)
	if !ok {
		return false
	}
	if value == nil {
		value = DBNull
	}
	p.Value = value
	return true
}

// Bind привязывает команду к соединению или транзакции
func (c *Command) Bind(e Executor, timeout time.Duration) {
	c.executor = e
	c.timeout = timeout
}

// Unbind снимает привязку
func (c *Command) Unbind() {
	c.executor = nil
	c.timeout = 0
}

// Bound - команда привязана
func (c *Command) Bound() bool {
	return c.executor != nil
}

// Timeout - таймаут привязки
func (c *Command) Timeout() time.Duration {
	return c.timeout
}

// ExecContext выполняет команду без результата и возвращает число затронутых строк
func (c *Command) ExecContext(ctx context.Context) (int64, error) {
	text, err := c.render()
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, text)
}

// QueryContext выполняет команду с результатом. Таймаут действует до Close.
func (c *Command) QueryContext(ctx context.Context) (Rows, error) {
	text, err := c.render()
	if err != nil {
		return nil, err
	}
	return c.query(ctx, text)
}

func (c *Command) render() (string, error) {
	if c.Kind != StoredProcedure {
		return c.Text, nil
	}
	names := make([]string, 0, len(c.Params))
	for _, p := range c.Params {
		names = append(names, p.Name)
	}
	return c.dialect.ProcedureCall(c.Text, names)
}

func (c *Command) exec(ctx context.Context, text string) (int64, error) {
	if c.executor == nil {
		return 0, ErrCommandNotBound
	}
	query, args, err := bindStatement(c.dialect, text, c.Params)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.executor.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func (c *Command) query(ctx context.Context, text string) (Rows, error) {
	if c.executor == nil {
		return nil, ErrCommandNotBound
	}
	query, args, err := bindStatement(c.dialect, text, c.Params)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	rows, err := c.executor.QueryContext(ctx, query, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelRows{Rows: rows, cancel: cancel}, nil
}

func (c *Command) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// loadRow берет значения параметров из строки по SourceColumn
func (c *Command) loadRow(r *dataset.Row) error {
	for _, p := range c.Params {
		if p.SourceColumn == "" {
			continue
		}
		v, err := r.Value(p.SourceColumn, p.Version)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if v == nil {
			v = DBNull
		}
		p.Value = v
	}
	return nil
}

type cancelRows struct {
	Rows
	cancel context.CancelFunc
}

func (r *cancelRows) Close() error {
	err := r.Rows.Close()
	r.cancel()
	return err
}

var errNoColumnTypes = errors.New("column types are not available")

func (r *cancelRows) ColumnTypes() ([]*sql.ColumnType, error) {
	if ct, ok := r.Rows.(columnTyper); ok {
		return ct.ColumnTypes()
	}
	return nil, errNoColumnTypes
}

// bindStatement готовит текст и аргументы под способ связывания диалекта.
// Именованные: в аргументы попадают только параметры, встреченные в тексте.
// Позиционные: известные имена заменяются на "?" или "$n".
func bindStatement(d dialect.Dialect, text string, params []*Parameter) (string, []any, error) {
	byName := make(map[string]*Parameter, len(params))
	for _, p := range params {
		byName[strings.ToLower(p.Name)] = p
	}

	var args []any
	var bindErr error
	prefix := d.ParameterPrefix()

	switch d.Binding() {
	case dialect.BindNamed:
		seen := make(map[*Parameter]bool)
		scanParameters(text, prefix, func(token string) (string, bool) {
			p, ok := byName[strings.ToLower(token)]
			if !ok || seen[p] {
				return "", false
			}
			seen[p] = true
			v, err := p.driverValue(d)
			if err != nil && bindErr == nil {
				bindErr = fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			args = append(args, sql.Named(strings.TrimPrefix(p.Name, prefix), v))
			return "", false
		})
		return text, args, bindErr

	default:
		numbers := make(map[*Parameter]int)
		out := scanParameters(text, prefix, func(token string) (string, bool) {
			p, ok := byName[strings.ToLower(token)]
			if !ok {
				return "", false
			}
			if d.Binding() == dialect.BindNumbered {
				if n, ok := numbers[p]; ok {
					return d.Placeholder(n), true
				}
			}
			v, err := p.driverValue(d)
			if err != nil && bindErr == nil {
				bindErr = fmt.Errorf("parameter %s: %w", p.Name, err)
			}
			args = append(args, v)
			numbers[p] = len(args)
			return d.Placeholder(len(args)), true
		})
		return out, args, bindErr
	}
}

// scanParameters обходит текст, пропуская строковые литералы, квотированные
// идентификаторы и комментарии, и вызывает fn для каждого токена prefix+имя.
// Если fn возвращает true, токен заменяется.
func scanParameters(text, prefix string, fn func(token string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(text))
	p := prefix[0]

	for i := 0; i < len(text); {
		ch := text[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := skipQuoted(text, i, ch)
			b.WriteString(text[i:end])
			i = end
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text) - i
			}
			b.WriteString(text[i : i+end])
			i += end
		case ch == p && identStartAt(text, i+1) && (i == 0 || text[i-1] != p):
			j := i + 1
			for j < len(text) {
				r, size := utf8.DecodeRuneInString(text[j:])
				if !isIdentChar(r) {
					break
				}
				j += size
			}
			token := text[i:j]
			if repl, ok := fn(token); ok {
				b.WriteString(repl)
			} else {
				b.WriteString(token)
			}
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

func skipQuoted(text string, start int, quote byte) int {
	for i := start + 1; i < len(text); i++ {
		if text[i] != quote {
			continue
		}
		if i+1 < len(text) && text[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(text)
}

func identStartAt(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isIdentStart(r)
}

// Имена параметров могут быть не только латиницей: @Имя
func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
