package jingle

import (
	"errors"
	"fmt"
)

// ErrorCode классифицирует ошибки публичного API движка.
type ErrorCode int

const (
	// CodeUnknown — непредвиденная внутренняя ошибка.
	CodeUnknown ErrorCode = iota
	// CodeInvalidArgument — некорректный аргумент вызова.
	CodeInvalidArgument
	// CodeNoLocalMedia — не удалось получить ни одной локальной медиадорожки.
	CodeNoLocalMedia
)

// String возвращает текстовое имя кода.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNoLocalMedia:
		return "NO_LOCAL_MEDIA"
	default:
		return "UNKNOWN"
	}
}

// Error — ошибка движка с кодом и операцией, в которой она возникла.
type Error struct {
	Code ErrorCode
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("jingle: %s: %s", e.Op, e.Code)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

func wrapError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf извлекает код из цепочки ошибок. Для ошибок других типов
// возвращается CodeUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
