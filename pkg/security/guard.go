// Package security - проверка текста команд, которые оператор передает
// в обход построителя (fluidctl query --sql, fluidctl exec).
package security

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// Policy - что разрешено в тексте команды
type Policy int

const (
	// ReadOnly - только SELECT и WITH
	ReadOnly Policy = iota
	// SingleWrite - одна команда чтения или INSERT/UPDATE/DELETE/MERGE, без DDL
	SingleWrite
	// Unrestricted - без проверок
	Unrestricted
)

func (p Policy) String() string {
	switch p {
	case ReadOnly:
		return "read-only"
	case SingleWrite:
		return "single-write"
	case Unrestricted:
		return "unrestricted"
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

var (
	ErrStatementKind      = errors.New("statement kind not allowed")
	ErrForbiddenKeyword   = errors.New("forbidden keyword")
	ErrMultipleStatements = errors.New("multiple statements not allowed")
	ErrComment            = errors.New("SQL comments not allowed")
	ErrEmptyStatement     = errors.New("empty statement")
)

var words = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$#]*`)

var (
	readKinds  = []string{"SELECT", "WITH"}
	writeKinds = []string{"INSERT", "UPDATE", "DELETE", "MERGE"}

	// запрещены при любой политике, кроме Unrestricted
	alwaysForbidden = []string{
		"DROP", "CREATE", "ALTER", "RENAME", "TRUNCATE",
		"GRANT", "REVOKE",
		"EXECUTE", "EXEC", "CALL",
		"PRAGMA", "ATTACH", "DETACH",
		"BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT",
	}
)

// StatementGuard проверяет текст команды по политике
type StatementGuard struct {
	policy Policy
}

func NewStatementGuard(p Policy) *StatementGuard {
	return &StatementGuard{policy: p}
}

func (g *StatementGuard) Policy() Policy {
	return g.policy
}

// Check возвращает ошибку, если текст не проходит политику.
// Содержимое строковых литералов и квотированных имен не проверяется.
func (g *StatementGuard) Check(sql string) error {
	if g.policy == Unrestricted {
		return nil
	}
	text := blankQuoted(sql)
	if strings.Contains(text, "--") || strings.Contains(text, "/*") {
		return ErrComment
	}
	text = strings.TrimRight(strings.TrimSpace(text), "; \t\r\n")
	if strings.Contains(text, ";") {
		return ErrMultipleStatements
	}

	tokens := words.FindAllString(strings.ToUpper(text), -1)
	if len(tokens) == 0 {
		return ErrEmptyStatement
	}

	allowed := readKinds
	forbidden := append(append([]string(nil), alwaysForbidden...), writeKinds...)
	if g.policy == SingleWrite {
		allowed = append(append([]string(nil), readKinds...), writeKinds...)
		forbidden = alwaysForbidden
	}
	if !slices.Contains(allowed, tokens[0]) {
		return fmt.Errorf("%w in %s mode: %s", ErrStatementKind, g.policy, tokens[0])
	}
	for _, tok := range tokens[1:] {
		if slices.Contains(forbidden, tok) {
			return fmt.Errorf("%w in %s mode: %s", ErrForbiddenKeyword, g.policy, tok)
		}
	}
	return nil
}

// blankQuoted заменяет пробелами содержимое '...', "..." и `...`
func blankQuoted(sql string) string {
	b := []byte(sql)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"' || c == '`'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}

// CurrentUser - имя пользователя ОС из USER или USERNAME, "unknown" если их нет
func CurrentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
