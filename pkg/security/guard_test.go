package security

import (
	"errors"
	"testing"
)

func TestStatementGuard_ReadOnly(t *testing.T) {
	g := NewStatementGuard(ReadOnly)

	tests := []struct {
		name    string
		sql     string
		wantErr error
	}{
		{"simple select", "SELECT * FROM Customer", nil},
		{"select with trailing semicolon", "SELECT Id FROM Customer;", nil},
		{"cte", "WITH t AS (SELECT 1 AS x) SELECT x FROM t", nil},
		{"column like keyword", "SELECT DELETED_AT, updated_by FROM Customer", nil},
		{"keyword inside literal", "SELECT * FROM Log WHERE Msg = 'DROP TABLE x; --'", nil},
		{"quoted identifier", `SELECT "Delete" FROM Customer`, nil},
		{"insert", "INSERT INTO Customer (Name) VALUES ('x')", ErrStatementKind},
		{"delete in cte", "WITH d AS (DELETE FROM Customer RETURNING Id) SELECT * FROM d", ErrForbiddenKeyword},
		{"two statements", "SELECT 1; DROP TABLE Customer", ErrMultipleStatements},
		{"line comment", "SELECT * FROM Customer -- hidden", ErrComment},
		{"block comment", "SELECT /* x */ 1", ErrComment},
		{"pragma", "PRAGMA table_info(Customer)", ErrStatementKind},
		{"empty", "  ;  ", ErrEmptyStatement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.sql)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Check(%q) unexpected error: %v", tt.sql, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check(%q) = %v, want %v", tt.sql, err, tt.wantErr)
			}
		})
	}
}

func TestStatementGuard_SingleWrite(t *testing.T) {
	g := NewStatementGuard(SingleWrite)

	for _, sql := range []string{
		"INSERT INTO Customer (Name) VALUES (@Name)",
		"UPDATE Customer SET Name = @Name WHERE Id = @Id",
		"DELETE FROM Customer WHERE Id = @Id;",
		"SELECT COUNT(*) FROM Customer",
	} {
		if err := g.Check(sql); err != nil {
			t.Errorf("Check(%q) unexpected error: %v", sql, err)
		}
	}

	for _, tt := range []struct {
		sql  string
		want error
	}{
		{"DROP TABLE Customer", ErrStatementKind},
		{"DELETE FROM Customer; DELETE FROM Orders", ErrMultipleStatements},
		{"UPDATE Customer SET Name = 'x'; COMMIT", ErrMultipleStatements},
		{"INSERT INTO t SELECT * FROM s; ALTER TABLE", ErrMultipleStatements},
		{"CREATE TABLE t (x INT)", ErrStatementKind},
		{"MERGE INTO t USING s ON 1 = 1 WHEN MATCHED THEN DELETE; EXEC p", ErrMultipleStatements},
		{"UPDATE t SET x = (SELECT 1) WHERE EXISTS (SELECT 1 FROM s) AND CALL", ErrForbiddenKeyword},
	} {
		if err := g.Check(tt.sql); !errors.Is(err, tt.want) {
			t.Errorf("Check(%q) = %v, want %v", tt.sql, err, tt.want)
		}
	}
}

func TestStatementGuard_Unrestricted(t *testing.T) {
	g := NewStatementGuard(Unrestricted)
	if err := g.Check("DROP TABLE Customer; -- bye"); err != nil {
		t.Errorf("Unrestricted should accept anything, got %v", err)
	}
	if g.Policy().String() != "unrestricted" {
		t.Errorf("Policy() = %s", g.Policy())
	}
}

func TestCurrentUser(t *testing.T) {
	t.Setenv("USER", "operator")
	if got := CurrentUser(); got != "operator" {
		t.Errorf("CurrentUser() = %q, want operator", got)
	}

	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")
	if got := CurrentUser(); got != "unknown" {
		t.Errorf("CurrentUser() = %q, want unknown", got)
	}
}
