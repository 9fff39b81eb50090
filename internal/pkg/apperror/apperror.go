package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidAgreement      ErrorCode = "INVALID_AGREEMENT"
	ErrCodeAgreementExists       ErrorCode = "AGREEMENT_EXISTS"
	ErrCodeInvalidStatus         ErrorCode = "INVALID_STATUS"
	ErrCodeNotAuthorized         ErrorCode = "NOT_AUTHORIZED"
	ErrCodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeTransferFailed        ErrorCode = "TRANSFER_FAILED"
	ErrCodeTimeoutNotReached     ErrorCode = "TIMEOUT_NOT_REACHED"
	ErrCodeMilestoneNotCompleted ErrorCode = "MILESTONE_NOT_COMPLETED"
	ErrCodeInvalidMilestoneIndex ErrorCode = "INVALID_MILESTONE_INDEX"
	ErrCodeFeeTooHigh            ErrorCode = "FEE_TOO_HIGH"
	ErrCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrCodeValidation            ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets sentinel AppError values match wrapped copies by code.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidAgreement:
		return http.StatusNotFound
	case ErrCodeAgreementExists:
		return http.StatusConflict
	case ErrCodeInvalidStatus, ErrCodeTimeoutNotReached, ErrCodeMilestoneNotCompleted:
		return http.StatusConflict
	case ErrCodeNotAuthorized:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInvalidAmount, ErrCodeInvalidMilestoneIndex, ErrCodeFeeTooHigh, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeInsufficientBalance, ErrCodeTransferFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the application error code, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// StatusOf extracts the HTTP status for an error.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

var (
	ErrInvalidAmount         = New(ErrCodeInvalidAmount, "amount is zero or does not match")
	ErrInvalidAgreement      = New(ErrCodeInvalidAgreement, "agreement not found")
	ErrAgreementExists       = New(ErrCodeAgreementExists, "agreement id already exists")
	ErrInvalidStatus         = New(ErrCodeInvalidStatus, "operation not permitted in current status")
	ErrNotAuthorized         = New(ErrCodeNotAuthorized, "caller lacks the required role")
	ErrInsufficientBalance   = New(ErrCodeInsufficientBalance, "insufficient balance")
	ErrTransferFailed        = New(ErrCodeTransferFailed, "value transfer failed")
	ErrTimeoutNotReached     = New(ErrCodeTimeoutNotReached, "release timeout not reached")
	ErrMilestoneNotCompleted = New(ErrCodeMilestoneNotCompleted, "milestone not completed")
	ErrInvalidMilestoneIndex = New(ErrCodeInvalidMilestoneIndex, "milestone index out of range")
	ErrFeeTooHigh            = New(ErrCodeFeeTooHigh, "fee rate exceeds the allowed cap")
	ErrUnauthorized          = New(ErrCodeUnauthorized, "authorization required")
)
