package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}
	ErrBaseURLMissing = &AppError{Code: "CONFIG_003", Message: "api.base_url is not defined"}

	ErrAPIUnavailable = &AppError{Code: "API_001", Message: "care API unavailable"}
	ErrAPIRequest     = &AppError{Code: "API_002", Message: "care API request failed"}
	ErrRateLimited    = &AppError{Code: "API_003", Message: "rate limit exceeded"}

	ErrDoseNotFound      = &AppError{Code: "DOSE_001", Message: "dose not found"}
	ErrInvalidTimestamp  = &AppError{Code: "DOSE_002", Message: "invalid due timestamp"}
	ErrDoseNotActionable = &AppError{Code: "DOSE_003", Message: "dose cannot be marked as taken"}

	ErrMedicationInvalid = &AppError{Code: "MED_001", Message: "invalid medication"}

	ErrStoreUnavailable = &AppError{Code: "STORE_001", Message: "local store unavailable"}
	ErrSnapshotNotFound = &AppError{Code: "STORE_002", Message: "no cached doses"}

	ErrChannelNotConfigured = &AppError{Code: "CHAN_001", Message: "channel not configured"}
	ErrChannelUnavailable   = &AppError{Code: "CHAN_002", Message: "channel unavailable"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Is matches predefined errors by code so wrapped copies still compare equal
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
