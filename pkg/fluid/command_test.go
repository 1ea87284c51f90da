package fluid

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/dialect/mysql"
	"github.com/ruslano69/fluidsql/pkg/dialect/postgres"
	"github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
)

func TestBindPositionalRepeatsValues(t *testing.T) {
	params := []*Parameter{
		{Name: "@a", Value: 1},
		{Name: "@Original_a", Value: DBNull},
	}
	text := "UPDATE `t` SET `a` = @a WHERE ((@Original_a IS NULL AND `a` IS NULL) OR (`a` = @Original_a))"

	query, args, err := bindStatement(mysql.New(), text, params)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `t` SET `a` = ? WHERE ((? IS NULL AND `a` IS NULL) OR (`a` = ?))", query)
	assert.Equal(t, []any{1, nil, nil}, args)
}

func TestBindNumberedReusesPosition(t *testing.T) {
	params := []*Parameter{
		{Name: "@a", Value: 1},
		{Name: "@Original_a", Value: "x"},
	}
	text := `UPDATE "t" SET "a" = @a WHERE ((@Original_a IS NULL AND "a" IS NULL) OR ("a" = @Original_a))`

	query, args, err := bindStatement(postgres.New(), text, params)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "t" SET "a" = $1 WHERE (($2 IS NULL AND "a" IS NULL) OR ("a" = $2))`, query)
	assert.Equal(t, []any{1, "x"}, args)
}

func TestBindNamedSkipsLiterals(t *testing.T) {
	params := []*Parameter{
		{Name: "@a", Kind: dataset.KindInt32, Value: "7"},
		{Name: "@unused", Value: 2},
	}
	text := "SELECT '@a', \"@unused\", @@version FROM t WHERE a = @a -- @unused\nAND b = @a"

	query, args, err := bindStatement(sqlite.New(), text, params)
	require.NoError(t, err)
	assert.Equal(t, text, query)
	// значение приводится к виду параметра, имя передается без префикса
	assert.Equal(t, []any{sql.Named("a", int32(7))}, args)
}

func TestBindUnicodeNames(t *testing.T) {
	params := []*Parameter{
		{Name: "@Имя", Value: "Иван"},
		{Name: "@Original_Имя", Value: "Петр"},
	}
	text := `UPDATE "Клиент" SET "Имя" = @Имя WHERE "Имя" = @Original_Имя`

	query, args, err := bindStatement(sqlite.New(), text, params)
	require.NoError(t, err)
	assert.Equal(t, text, query)
	assert.Equal(t, []any{sql.Named("Имя", "Иван"), sql.Named("Original_Имя", "Петр")}, args)

	query, args, err = bindStatement(postgres.New(), text, params)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Клиент" SET "Имя" = $1 WHERE "Имя" = $2`, query)
	assert.Equal(t, []any{"Иван", "Петр"}, args)
}

func TestBindConversionError(t *testing.T) {
	params := []*Parameter{{Name: "@a", Kind: dataset.KindInt32, Value: "seven"}}
	_, _, err := bindStatement(mysql.New(), "SELECT @a", params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter @a")
}

func TestCommandParameters(t *testing.T) {
	c := NewCommand(sqlite.New(), "SELECT * FROM t WHERE id = @id")
	c.AddParameter(&Parameter{Name: "@id", Kind: dataset.KindInt32})

	assert.True(t, c.SetValue("ID", 5))
	p, ok := c.Parameter("@Id")
	require.True(t, ok)
	assert.Equal(t, 5, p.Value)

	assert.True(t, c.SetValue("id", nil))
	assert.Equal(t, DBNull, p.Value)
	assert.False(t, c.SetValue("missing", 1))

	// одноименный параметр заменяется
	c.AddParameter(&Parameter{Name: "@id", Kind: dataset.KindInt64})
	assert.Len(t, c.Params, 1)
	assert.Equal(t, dataset.KindInt64, c.Params[0].Kind)

	_, err := c.ExecContext(context.Background())
	assert.True(t, errors.Is(err, ErrCommandNotBound))
}

func TestParameterInfo(t *testing.T) {
	assert.Equal(t, DBNull, NewParameterInfo("a", nil).Value)
	assert.Equal(t, 0, NewParameterInfo("a", 0).Value)

	assert.Equal(t, DBNull, CreateWithDBNull("a", "  ").Value)
	assert.Equal(t, DBNull, CreateWithDBNull("a", "abc", dataset.KindInt32).Value)
	assert.Equal(t, int32(12), CreateWithDBNull("a", "12", dataset.KindInt32).Value)
	assert.True(t, IsNull(CreateWithDBNull("a", nil).Value))
}
