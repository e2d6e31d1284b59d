package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrMissingToken       = fmt.Errorf("missing authentication token")
	ErrInvalidToken       = fmt.Errorf("invalid authentication token")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrInvalidUsername    = fmt.Errorf("username contains forbidden characters")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrGroupNotFound      = fmt.Errorf("group not found")
	ErrMessageNotFound    = fmt.Errorf("message not found")
	ErrEmptyMessage       = fmt.Errorf("empty message text")
	ErrMissingRecipient   = fmt.Errorf("recipient or group required")
	ErrConflictExhausted  = fmt.Errorf("transaction conflict retries exhausted")
	ErrEmptyCensoredWords = fmt.Errorf("no censored words have been found")
)
