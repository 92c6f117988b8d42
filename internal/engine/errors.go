package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"explorer/internal/browser"
)

// ErrRunNotFound запуск с таким id неизвестен менеджеру.
var ErrRunNotFound = errors.New("запуск не найден")

type ErrorType int

const (
	ErrorTypeTemporary ErrorType = iota
	ErrorTypeCritical
	ErrorTypeRetryable
)

func (e ErrorType) String() string {
	switch e {
	case ErrorTypeTemporary:
		return "temporary"
	case ErrorTypeCritical:
		return "critical"
	case ErrorTypeRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// ActionError ошибка действия шага с классификацией.
type ActionError struct {
	Type    ErrorType
	Action  string
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// classifyError: закрытая сессия, падение вкладки и отмена критичны;
// таймауты и сеть повторяются; пропавший элемент временный.
func classifyError(action string, err error) *ActionError {
	if err == nil {
		return nil
	}
	ae := &ActionError{Action: action, Message: err.Error(), Err: err}

	errStr := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, browser.ErrSessionClosed),
		errors.Is(err, context.Canceled),
		strings.Contains(errStr, "target closed"),
		strings.Contains(errStr, "page crashed"),
		strings.Contains(errStr, "browser has been closed"):
		ae.Type = ErrorTypeCritical
	case errors.Is(err, browser.ErrTargetNotFound),
		strings.Contains(errStr, "not found"),
		strings.Contains(errStr, "detached"),
		strings.Contains(errStr, "not visible"),
		strings.Contains(errStr, "element"):
		ae.Type = ErrorTypeTemporary
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "err_"),
		strings.Contains(errStr, "econnrefused"),
		strings.Contains(errStr, "etimedout"):
		ae.Type = ErrorTypeRetryable
	default:
		ae.Type = ErrorTypeTemporary
	}
	return ae
}

func isCriticalError(err error) bool {
	ae := classifyError("", err)
	return ae != nil && ae.Type == ErrorTypeCritical
}

// retryAction выполняет fn не более attempts раз с экспоненциальной
// задержкой, начиная с baseDelay. Критичные ошибки не повторяются.
func retryAction(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		// петля редиректов не лечится повтором
		if isCriticalError(err) || errors.Is(err, browser.ErrTooManyRedirects) {
			return err
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("после %d попыток: %w", attempts, lastErr)
}
