package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// Коды жизненного цикла заказа и escrow.
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeWalletRequired      ErrorCode = "WALLET_REQUIRED"
	ErrCodeInvalidWallet       ErrorCode = "INVALID_WALLET_ADDRESS"
	ErrCodeSelfDealing         ErrorCode = "SELF_DEALING"
	ErrCodeNotAProvider        ErrorCode = "NOT_A_PROVIDER"
	ErrCodeNotParticipant      ErrorCode = "NOT_PARTICIPANT"
	ErrCodeAlreadyRated        ErrorCode = "ALREADY_RATED"
	ErrCodeChatNotAvailable    ErrorCode = "CHAT_NOT_AVAILABLE"
	ErrCodeLedgerUnavailable   ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeLedgerRejected      ErrorCode = "LEDGER_REJECTED"
	ErrCodeOperationInFlight   ErrorCode = "OPERATION_IN_FLIGHT"
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

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
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
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeSelfDealing, ErrCodeNotAProvider, ErrCodeNotParticipant, ErrCodeChatNotAvailable:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInsufficientBalance, ErrCodeWalletRequired, ErrCodeInvalidWallet:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeInvalidState, ErrCodeAlreadyRated, ErrCodeOperationInFlight:
		return http.StatusConflict
	case ErrCodeLedgerUnavailable, ErrCodeLedgerRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsInvalidState(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidState
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

// CodeOf возвращает машинный код ошибки или INTERNAL_ERROR для неизвестных.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

var (
	ErrOrderNotFound   = New(ErrCodeNotFound, "заказ не найден")
	ErrDisputeNotFound = New(ErrCodeNotFound, "спор не найден")
	ErrUserNotFound    = New(ErrCodeNotFound, "пользователь не найден")
	ErrUnauthorized    = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden       = New(ErrCodeForbidden, "недостаточно прав")
)
