// Package apierr classifies generation failures into the categories the
// fallback policy and the user interface act on.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai"
)

// Class is the failure category of a provider call.
type Class string

const (
	ApiUnavailable  Class = "api_unavailable"
	RateLimited     Class = "rate_limited"
	ServerError     Class = "server_error"
	ValidationError Class = "validation_error"
	Unknown         Class = "unknown"
)

var (
	// ErrNoAPIKey is returned by providers that have no credentials configured.
	ErrNoAPIKey = errors.New("api key is not configured")

	// ErrEmptyResult is returned when a provider answered with nothing usable.
	ErrEmptyResult = errors.New("provider returned an empty result")
)

// Error is a provider failure with an explicit class.
type Error struct {
	Class    Class
	Status   int
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s [%s]: status %d: %s", e.Class, e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Class, e.Provider, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given class.
func New(class Class, provider, message string) *Error {
	return &Error{Class: class, Provider: provider, Message: message}
}

// Wrap attaches a class and provider to err.
func Wrap(class Class, provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Provider: provider, Err: err}
}

// FromStatus builds an Error from an HTTP status code.
func FromStatus(provider string, status int, message string) *Error {
	return &Error{Class: ClassOfStatus(status), Status: status, Provider: provider, Message: message}
}

// ClassOfStatus maps an HTTP status to a Class.
func ClassOfStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500 && status < 600:
		return ServerError
	case status >= 400 && status < 500:
		return ValidationError
	default:
		return Unknown
	}
}

// Record is the user-facing description of a failure.
type Record struct {
	Message   string `json:"message"`
	Class     Class  `json:"classification"`
	Retryable bool   `json:"retryable"`
	Provider  string `json:"provider,omitempty"`
	Status    int    `json:"status,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Classify maps any error onto a Record.
func Classify(err error) Record {
	if err == nil {
		return Record{}
	}

	rec := Record{Class: Unknown, Details: err.Error()}

	var apiErr *Error
	var oaiErr *openai.APIError
	var reqErr *openai.RequestError
	var validationErrs validator.ValidationErrors
	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.As(err, &apiErr):
		rec.Class = apiErr.Class
		rec.Status = apiErr.Status
		rec.Provider = apiErr.Provider
		if rec.Class == "" {
			rec.Class = ClassOfStatus(apiErr.Status)
		}
	case errors.Is(err, ErrNoAPIKey):
		rec.Class = ApiUnavailable
	case errors.Is(err, ErrEmptyResult), errors.As(err, &validationErrs):
		rec.Class = ValidationError
	case errors.As(err, &oaiErr):
		rec.Status = oaiErr.HTTPStatusCode
		rec.Class = ClassOfStatus(oaiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		rec.Status = reqErr.HTTPStatusCode
		rec.Class = ClassOfStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		rec.Class = ServerError
	case errors.As(err, &netErr) && netErr.Timeout():
		rec.Class = ServerError
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		rec.Class = ApiUnavailable
	}

	rec.Retryable = rec.Class != ValidationError || errors.Is(err, ErrEmptyResult)
	rec.Message = Message(rec.Class)
	return rec
}

// Message returns the text shown to the user for a class.
func Message(class Class) string {
	switch class {
	case ApiUnavailable:
		return "Сервис генерации недоступен. Возможно, не настроен API-ключ или сервер перегружен."
	case RateLimited:
		return "Превышен лимит запросов. Пожалуйста, подождите немного и попробуйте снова."
	case ServerError:
		return "Проблемы на стороне сервера генерации. Пожалуйста, попробуйте еще раз позже."
	case ValidationError:
		return "Запрос не может быть выполнен: проверьте введенные данные."
	default:
		return "Произошла ошибка. Пожалуйста, попробуйте еще раз."
	}
}

// HTTPStatus is the status the web layer answers with for a class.
func HTTPStatus(rec Record) int {
	if rec.Status >= 400 {
		return rec.Status
	}
	switch rec.Class {
	case ApiUnavailable:
		return http.StatusServiceUnavailable
	case RateLimited:
		return http.StatusTooManyRequests
	case ValidationError:
		return http.StatusBadRequest
	case ServerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
