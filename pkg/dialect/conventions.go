package dialect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ruslano69/fluidsql/pkg/dataset"
)

// ErrProceduresUnsupported - диалект не умеет вызывать хранимые процедуры
var ErrProceduresUnsupported = errors.New("stored procedures are not supported")

var whitespace = regexp.MustCompile(`\s+`)

// Conventions - общая реализация Dialect, параметризованная полями.
// Подпакеты встраивают ее и переопределяют то, что отличается.
type Conventions struct {
	DialectName string
	Driver      string

	QuoteOpen  string
	QuoteClose string

	Prefix         string
	CurrentMarker  string
	OriginalMarker string
	// FoldUpper - имена параметров и идентификаторов в верхнем регистре (Oracle)
	FoldUpper bool

	LastID       string
	BatchExtra   bool
	AliasKeyword bool
	// ProcedureFormat - fmt-шаблон вызова: имя и список параметров через запятую
	ProcedureFormat string

	Hints map[dataset.Kind]Hint
	Bind  Binding
}

func (c *Conventions) Name() string       { return c.DialectName }
func (c *Conventions) DriverName() string { return c.Driver }

// QuoteIdentifier квотирует идентификатор, удваивая закрывающую кавычку внутри имени
func (c *Conventions) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, c.QuoteOpen) && strings.HasSuffix(name, c.QuoteClose) && len(name) > 1 {
		return name
	}
	if c.FoldUpper {
		name = strings.ToUpper(name)
	}
	return c.QuoteOpen + strings.ReplaceAll(name, c.QuoteClose, c.QuoteClose+c.QuoteClose) + c.QuoteClose
}

func (c *Conventions) ParameterPrefix() string { return c.Prefix }

// ParameterName: пробелы заменяются на "_", маркер версии ставится перед именем
func (c *Conventions) ParameterName(column string, version dataset.Version) string {
	name := whitespace.ReplaceAllString(strings.TrimSpace(column), "_")
	marker := c.CurrentMarker
	if version == dataset.Original {
		marker = c.OriginalMarker
	}
	name = marker + name
	if c.FoldUpper {
		name = strings.ToUpper(name)
	}
	return c.Prefix + name
}

func (c *Conventions) LastInsertID() string      { return c.LastID }
func (c *Conventions) BatchesExtraSelect() bool { return c.BatchExtra }

func (c *Conventions) TableAlias(alias string) string {
	if alias == "" {
		return ""
	}
	if c.AliasKeyword {
		return " AS " + alias
	}
	return " " + alias
}

func (c *Conventions) ProcedureCall(name string, params []string) (string, error) {
	if c.ProcedureFormat == "" {
		return "", fmt.Errorf("%s: %w", c.DialectName, ErrProceduresUnsupported)
	}
	return fmt.Sprintf(c.ProcedureFormat, QualifiedName(c, "", name), strings.Join(params, ", ")), nil
}

func (c *Conventions) DefaultValuesInsert(table string) string {
	return "INSERT INTO " + table + " DEFAULT VALUES"
}

func (c *Conventions) TypeHints() map[dataset.Kind]Hint {
	out := make(map[dataset.Kind]Hint, len(c.Hints))
	for k, h := range c.Hints {
		out[k] = h
	}
	return out
}

func (c *Conventions) Binding() Binding { return c.Bind }

func (c *Conventions) Placeholder(n int) string {
	switch c.Bind {
	case BindQuestion:
		return "?"
	case BindNumbered:
		return fmt.Sprintf("$%d", n)
	}
	return ""
}

func (c *Conventions) DriverValue(_ Hint, v any) any { return v }

func (c *Conventions) ScanValue(_ dataset.Kind, v any) any { return v }

// Describe по умолчанию разбирает строку вида "key=value;key=value"
func (c *Conventions) Describe(connectionString string) Source {
	return DescribeKeyValue(connectionString)
}

// DescribeKeyValue ищет стандартные ключи строки подключения вида "key=value;..."
func DescribeKeyValue(cs string) Source {
	var src Source
	for _, part := range strings.Split(cs, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "server", "data source", "datasource", "address", "addr", "host":
			src.DataSource = value
		case "database", "initial catalog", "dbname":
			src.Database = value
		}
	}
	return src
}
