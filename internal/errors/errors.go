package errors

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// APIError represents an application error surfaced to API callers
type APIError struct {
	Status   int               `json:"-"`                // HTTP status code
	Message  string            `json:"error"`            // Error message
	Fields   map[string]string `json:"fields,omitempty"` // Per-field validation failures
	Internal error             `json:"-"`                // Original error
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithMessage returns a copy of the APIError with a custom message
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{
		Status:   e.Status,
		Message:  msg,
		Fields:   e.Fields,
		Internal: e.Internal,
	}
}

func New(status int, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, message, err)
}

// NotAuthorized is reported exactly like a missing resource so callers
// cannot probe for the existence of websites they have no access to.
func NotAuthorized(err error) *APIError {
	return New(http.StatusNotFound, "Resource not found", err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// NewValidationError converts binding/validator failures to a 422
func NewValidationError(err error) *APIError {
	apiErr := UnprocessableEntity("Validation failed", err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apiErr.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			apiErr.Fields[fe.Field()] = fe.Tag()
		}
	}
	return apiErr
}

// Postgres error codes the services react to
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// FromStore maps repository errors onto the API taxonomy. Errors that are
// already APIErrors pass through untouched.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("Resource not found", err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return Conflict("Resource already exists", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return Conflict("Resource already exists", err)
		case pgForeignKeyViolation:
			return UnprocessableEntity("Referenced resource does not exist", err)
		}
	}
	return err
}

// IsRetryable reports whether a transaction failed only because it lost a
// serialization race and can be replayed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

func IsConflict(err error) bool { return statusOf(err) == http.StatusConflict }

func IsValidation(err error) bool { return statusOf(err) == http.StatusUnprocessableEntity }
