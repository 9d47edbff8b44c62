package errors

import "fmt"

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

	ErrScheduleNotFound = &AppError{Code: "SCHED_001", Message: "no active reminder schedules"}
	ErrScheduleInvalid  = &AppError{Code: "SCHED_002", Message: "invalid reminder schedule"}
	ErrBadWeekday       = &AppError{Code: "SCHED_003", Message: "weekday outside ISO range 1-7"}
	ErrBadTimeOfDay     = &AppError{Code: "SCHED_004", Message: "time of day must be HH:MM"}

	ErrPersistence  = &AppError{Code: "STORE_001", Message: "dose log write failed"}
	ErrDoseNotFound = &AppError{Code: "STORE_002", Message: "dose record not found"}
	ErrMedNotFound  = &AppError{Code: "STORE_003", Message: "medication not found"}

	ErrSnoozeLimit  = &AppError{Code: "SNOOZE_001", Message: "maximum snoozes reached"}
	ErrNoActiveDose = &AppError{Code: "SNOOZE_002", Message: "no reminder is currently active"}

	ErrDispatchFailed = &AppError{Code: "DISPATCH_001", Message: "notification dispatch failed"}
	ErrNoCaregivers   = &AppError{Code: "DISPATCH_002", Message: "no caregiver recipients configured"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
