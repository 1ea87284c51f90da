// fluidctl - консольный клиент сервиса данных: проверка подключения,
// схема таблицы и построенные команды, выборка и выполнение команд.
//
// Usage:
//
//	fluidctl [--config fluidsql.yaml] [--dialect sqlite] [--connection dsn] <command>
//
// Commands:
//
//	dialects            зарегистрированные диалекты
//	ping                проверка подключения
//	describe <table>    колонки таблицы и команды SELECT/INSERT/UPDATE/DELETE
//	query <table>       выборка с условиями --where field=value
//	exec <sql>          команда без результата, --rollback для пробного запуска
//
// Environment:
//
//	FLUIDSQL_CONNECTION  строка подключения, если в файле ее нет
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ruslano69/fluidsql/pkg/dialect/mssql"
	_ "github.com/ruslano69/fluidsql/pkg/dialect/mysql"
	_ "github.com/ruslano69/fluidsql/pkg/dialect/oracle"
	_ "github.com/ruslano69/fluidsql/pkg/dialect/postgres"
	_ "github.com/ruslano69/fluidsql/pkg/dialect/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errColor.Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
