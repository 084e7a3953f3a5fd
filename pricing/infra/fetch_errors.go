package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// FetchError é o erro de uma chamada ao backend de commerce.
type FetchError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("commerce api status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("commerce api: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable separa falhas transitórias (timeout, conexão resetada, 5xx, 429)
// das definitivas (4xx, validação, cancelamento pelo chamador).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// *url.Error sozinho não basta: esquema inválido ou URL malformada são definitivos.
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}
