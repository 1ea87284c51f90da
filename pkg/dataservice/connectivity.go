package dataservice

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/ruslano69/fluidsql/pkg/dialect"
	"github.com/ruslano69/fluidsql/pkg/fluid"
)

// Conn - соединение с БД, на котором выполняется Perform
type Conn interface {
	fluid.Executor
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx - транзакция соединения
type Tx interface {
	fluid.Executor
	Commit() error
	Rollback() error
}

// Connectivity - соединение и, если открыта, транзакция
type Connectivity struct {
	Conn Conn
	Tx   Tx
}

// Executor - транзакция, если она есть, иначе соединение
func (c Connectivity) Executor() fluid.Executor {
	if c.Tx != nil {
		return c.Tx
	}
	return c.Conn
}

// Opener открывает соединение по строке подключения
type Opener interface {
	Open(ctx context.Context, d dialect.Dialect, connectionString string) (Conn, error)
}

// OpenerFunc - функция как Opener
type OpenerFunc func(ctx context.Context, d dialect.Dialect, connectionString string) (Conn, error)

func (f OpenerFunc) Open(ctx context.Context, d dialect.Dialect, connectionString string) (Conn, error) {
	return f(ctx, d, connectionString)
}

// SQLOpener держит по одному *sql.DB на драйвер и строку подключения
// и выдает из него отдельные соединения *sql.Conn.
type SQLOpener struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewSQLOpener() *SQLOpener {
	return &SQLOpener{pools: make(map[string]*sql.DB)}
}

// DefaultOpener - общий для процесса SQLOpener
var DefaultOpener = NewSQLOpener()

func (o *SQLOpener) Open(ctx context.Context, d dialect.Dialect, connectionString string) (Conn, error) {
	db, err := o.pool(d.DriverName(), connectionString)
	if err != nil {
		return nil, err
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return WrapConn(c), nil
}

func (o *SQLOpener) pool(driver, connectionString string) (*sql.DB, error) {
	key := driver + "\x00" + connectionString

	o.mu.Lock()
	defer o.mu.Unlock()

	if db, ok := o.pools[key]; ok {
		return db, nil
	}
	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	o.pools[key] = db
	return db, nil
}

// Close закрывает все пулы
func (o *SQLOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var first error
	for key, db := range o.pools {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(o.pools, key)
	}
	return first
}

// WrapConn адаптирует *sql.Conn к Conn
func WrapConn(c *sql.Conn) Conn {
	return &sqlConn{Executor: fluid.SQLExecutor(c), conn: c}
}

// WrapTx адаптирует *sql.Tx к Tx
func WrapTx(tx *sql.Tx) Tx {
	return &sqlTx{Executor: fluid.SQLExecutor(tx), tx: tx}
}

type sqlConn struct {
	fluid.Executor
	conn *sql.Conn
}

func (c *sqlConn) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return WrapTx(tx), nil
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}

type sqlTx struct {
	fluid.Executor
	tx *sql.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }
