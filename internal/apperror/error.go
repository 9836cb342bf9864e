// Package apperror описывает таксономию ошибок сервиса хранения и их
// отображение в HTTP статусы.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code стабильный идентификатор класса ошибки
type Code int

const (
	CodeInternal           Code = iota // Непредвиденная ошибка сервера
	CodeInvalidInput                   // Отсутствует или некорректно обязательное поле
	CodeSizeExceeded                   // Объект или чанк больше допустимого
	CodeNotFound                       // Неизвестный идентификатор
	CodeChunkCountMismatch             // Финализация до получения всех чанков
	CodeTransportFailure               // Сетевая ошибка или ошибка хранилища
	CodeUnauthorized                   // Отказ шлюза доступа
)

func (c Code) String() string {
	switch c {
	case CodeInvalidInput:
		return "INVALID_INPUT"
	case CodeSizeExceeded:
		return "SIZE_EXCEEDED"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeChunkCountMismatch:
		return "CHUNK_COUNT_MISMATCH"
	case CodeTransportFailure:
		return "TRANSPORT_FAILURE"
	case CodeUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

// Error структурированная ошибка: сообщение для пользователя, код,
// исходная причина и необязательные детали для диагностики.
type Error struct {
	err     error
	msg     string
	code    Code
	details map[string]any
}

func (e *Error) Error() string {
	if e.msg != "" && e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	if e.msg != "" {
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.code.String()
}

// Msg возвращает сообщение для пользователя
func (e *Error) Msg() string {
	if e.msg == "" {
		return "Internal server error"
	}
	return e.msg
}

// Code возвращает код ошибки
func (e *Error) Code() Code {
	return e.code
}

// Details возвращает диагностические детали (может быть nil)
func (e *Error) Details() map[string]any {
	return e.details
}

func (e *Error) Unwrap() error {
	return e.err
}

// StatusCode отображает код ошибки в HTTP статус.
// Ошибки клиента дают 4xx, всё остальное 5xx.
func (e *Error) StatusCode() int {
	switch e.code {
	case CodeInvalidInput, CodeChunkCountMismatch:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail добавляет диагностическую пару ключ/значение
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

func newError(err error, msg string, code Code) *Error {
	return &Error{err: err, msg: msg, code: code}
}

// NewInvalidInput создает ошибку некорректного ввода
func NewInvalidInput(msg string) *Error {
	return newError(nil, msg, CodeInvalidInput)
}

// NewSizeExceeded создает ошибку превышения размера
func NewSizeExceeded(msg string, limit int64) *Error {
	return newError(nil, msg, CodeSizeExceeded).WithDetail("limit", limit)
}

// NewNotFound создает ошибку отсутствующего ресурса
func NewNotFound(msg string) *Error {
	return newError(nil, msg, CodeNotFound)
}

// NewChunkCountMismatch создает ошибку неполной сессии загрузки
func NewChunkCountMismatch(expected, found int) *Error {
	msg := fmt.Sprintf("Missing chunks. Expected %d, found %d", expected, found)
	return newError(nil, msg, CodeChunkCountMismatch).
		WithDetail("expected", expected).
		WithDetail("found", found)
}

// NewTransportFailure оборачивает сетевую ошибку или ошибку хранилища
func NewTransportFailure(msg string, err error) *Error {
	return newError(err, msg, CodeTransportFailure)
}

// NewUnauthorized создает ошибку отказа в доступе
func NewUnauthorized() *Error {
	return newError(nil, "Unauthorized", CodeUnauthorized)
}

// NewInternal оборачивает непредвиденную ошибку
func NewInternal(msg string, err error) *Error {
	return newError(err, msg, CodeInternal)
}

// CodeOf возвращает код ошибки; для не-*Error ошибок это CodeInternal
func CodeOf(err error) Code {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.code
	}
	return CodeInternal
}

// Is сообщает, относится ли err к указанному классу
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}
