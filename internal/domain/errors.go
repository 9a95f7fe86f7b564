package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized пользователь не авторизован
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeoutExceeded превышено время ожидания
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
)

// Ошибки проверки и разбора вебхука. Клиент получает 400.
var (
	ErrMalformedSignatureHeader = errors.New("malformed signature header")
	ErrSignatureMismatch        = errors.New("signature mismatch")
	ErrSignatureExpired         = errors.New("signature timestamp outside tolerance")
	ErrInvalidPayload           = errors.New("invalid event payload")
)

// Бизнес-ошибки: событие никогда не станет обрабатываемым при повторной доставке,
// поэтому оно логируется и подтверждается (200).
var (
	ErrMissingRequiredMetadata          = errors.New("missing required metadata")
	ErrSubscriptionMetadataUnresolvable = errors.New("subscription metadata unresolvable")
	ErrMissingUserMetadata              = errors.New("missing user metadata")
	ErrProductNotFound                  = errors.New("product not found")
)

// IsBusinessError сообщает, что ошибка относится к постоянно некорректному событию
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrMissingRequiredMetadata) ||
		errors.Is(err, ErrSubscriptionMetadataUnresolvable) ||
		errors.Is(err, ErrMissingUserMetadata) ||
		errors.Is(err, ErrProductNotFound)
}

// IsRejection сообщает, что запрос нужно отклонить на границе (400)
func IsRejection(err error) bool {
	return errors.Is(err, ErrMalformedSignatureHeader) ||
		errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrSignatureExpired) ||
		errors.Is(err, ErrInvalidPayload)
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// Is сопоставляет с ErrExternalServiceUnavailable только временные сбои:
// без ответа (таймаут, сеть, открытый breaker), 429 и 5xx. Остальные 4xx постоянны.
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalServiceUnavailable && e.Temporary()
}

// Temporary сообщает, может ли повтор того же запроса пройти
func (e *ExternalServiceError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
