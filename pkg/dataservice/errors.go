package dataservice

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration - конфигурация отклонена до выполнения команд
	ErrConfiguration = errors.New("invalid adapter configuration")
	// ErrUnknownAction - действие None или неизвестное
	ErrUnknownAction = errors.New("action is unknown")
	// ErrNoAdapter - для действия нужен адаптер
	ErrNoAdapter = errors.New("no adapter was provided")
	// ErrTableNotFound - таблицы нет в наборе данных
	ErrTableNotFound = errors.New("table does not exist in dataset")

	// ErrUnexpectedRowCount - число строк не совпало с ExpectedRows
	ErrUnexpectedRowCount = errors.New("expected number of rows was not affected")
	// ErrChangesNotPersisted - затронуто меньше строк, чем отправлено
	ErrChangesNotPersisted = errors.New("changes were not persisted successfully to the database")
	// ErrCustomCommandFailed - пользовательская команда вернула false
	ErrCustomCommandFailed = errors.New("custom command failed")

	// ErrNoConnectionString - нет строки подключения ни у сервиса, ни в настройках
	ErrNoConnectionString = errors.New("no connection string was provided")
	// ErrConnection - соединение не открылось
	ErrConnection = errors.New("database connection did not succeed")

	// ErrDialectMismatch - сервисы разных диалектов не делят соединение
	ErrDialectMismatch = errors.New("services use different dialects")
	// ErrNotGlobal - операция требует открытого глобального соединения
	ErrNotGlobal = errors.New("global connection is not open")
	// ErrAlreadyGlobal - глобальное соединение уже открыто
	ErrAlreadyGlobal = errors.New("global connection is already open")
)

// PerformError - ошибка Perform или MultiplePerform. Исходная ошибка доступна через errors.Is/As.
type PerformError struct {
	// Stage - "Perform" или "MultiplePerform"
	Stage string
	// Table - таблица конфигурации, на которой произошла ошибка, если известна
	Table      string
	DataSource string
	Database   string
	Err        error
}

func (e *PerformError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	b.WriteString(" method failed")
	if e.Table != "" {
		b.WriteString(": table [")
		b.WriteString(e.Table)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PerformError) Unwrap() error {
	return e.Err
}

// tableError - ошибка конфигурации с именем таблицы
type tableError struct {
	table string
	err   error
}

func (e *tableError) Error() string {
	return "table [" + e.table + "]: " + e.err.Error()
}

func (e *tableError) Unwrap() error {
	return e.err
}

func inTable(table string, err error) error {
	if err == nil || table == "" {
		return err
	}
	return &tableError{table: table, err: err}
}
