package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrPersistence         = errors.New("persistence error")
)

// UpstreamUnavailableError is a network failure, timeout, or non-2xx response.
type UpstreamUnavailableError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s unavailable: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s unavailable: %v", e.Endpoint, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func (e *UpstreamUnavailableError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// MalformedPayloadError is a response body that could not be decoded even
// after best-effort normalization.
type MalformedPayloadError struct {
	Endpoint string
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload from %s: %v", e.Endpoint, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

func (e *MalformedPayloadError) Is(target error) bool { return target == ErrMalformedPayload }

// PersistenceError is a write or read rejected by the store.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError wraps err unless it is nil.
func NewPersistenceError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}
