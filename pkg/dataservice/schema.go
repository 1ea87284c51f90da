package dataservice

import (
	"context"
	"fmt"

	"github.com/ruslano69/fluidsql/pkg/dataset"
	"github.com/ruslano69/fluidsql/pkg/fluid"
)

// CreateTable добавляет в набор пустую таблицу со схемой таблицы БД.
// Колонки берутся из результата выборки с ложным условием.
func (s *Service) CreateTable(ctx context.Context, ds *dataset.DataSet, table string, opts ...fluid.Option) (*dataset.Table, error) {
	a := fluid.New(s.dialect).
		CreateSelect(table, nil, opts...).
		SetCondition("1 = 0")
	if err := a.Err(); err != nil {
		return nil, err
	}

	name := a.TableMapping
	if err := s.Perform1(ctx, fluid.NewAdapterConfiguration(ds, name, a, fluid.ActionGet)); err != nil {
		return nil, err
	}
	t, ok := ds.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Ping проверяет, что соединение открывается. В глобальном режиме
// достаточно открытого глобального соединения.
func (s *Service) Ping(ctx context.Context) error {
	if s.mode == ModeGlobal {
		if !s.global.open() {
			return ErrNotGlobal
		}
		return nil
	}
	c, err := s.open(ctx, false)
	if err != nil {
		return err
	}
	s.closeConn(c.Conn)
	return nil
}
