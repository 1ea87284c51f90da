package fluid

import "errors"

var (
	// ErrUnsupportedType - для типа значения нет подсказки ни в таблице диалекта, ни в подсказках полей
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrUndefinedParameter - пустое имя параметра
	ErrUndefinedParameter = errors.New("undefined parameter")

	// ErrUndefinedType - тип параметра не указан и не выводится из значения
	ErrUndefinedType = errors.New("undefined type")

	// ErrCommandNotBound - команда выполняется без подключения
	ErrCommandNotBound = errors.New("command is not bound to a connection")

	ErrNoSelectCommand = errors.New("select command was not created")
	ErrNoCommand       = errors.New("no command for row state")
	ErrNoColumns       = errors.New("no columns to synthesize commands")
)
