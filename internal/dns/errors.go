package dns

import (
	"errors"
	"fmt"
	"net/http"
)

// Operation classes reported by ProviderError. Use errors.Is to test them.
var (
	ErrRead  = errors.New("provider read failed")
	ErrWrite = errors.New("provider write failed")
	ErrAuth  = errors.New("provider rejected credentials")
)

// ProviderError is returned by RecordStore implementations for any failed
// provider call.
type ProviderError struct {
	Provider   string
	Op         error // ErrRead or ErrWrite
	StatusCode int   // 0 when no response was received
	Payload    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{e.Op}
	if e.Auth() {
		errs = append(errs, ErrAuth)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Auth reports whether the provider refused the configured credentials.
func (e *ProviderError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
