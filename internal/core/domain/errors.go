package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction and streaming failures.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindTimeout        ErrorKind = "timeout"
	KindRateLimited    ErrorKind = "rate_limited"
	KindAuthRequired   ErrorKind = "auth_required"
	KindUnavailable    ErrorKind = "unavailable"
	KindUnsupportedURL ErrorKind = "unsupported_url"
	KindFormatNotFound ErrorKind = "format_not_found"
	KindParse          ErrorKind = "parse"
	KindSpawn          ErrorKind = "spawn_failure"
	KindCanceled       ErrorKind = "canceled"
	KindUnknown        ErrorKind = "unknown"
)

// Retryable reports whether a plain retry with the same strategy may help.
// Auth failures are recoverable only by switching strategy.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	}
	return false
}

// Recoverable reports whether the fallback ladder is worth trying.
func (k ErrorKind) Recoverable() bool {
	return k.Retryable() || k == KindAuthRequired || k == KindUnknown || k == KindParse
}

// ExtractionError carries a user-facing message plus the classified kind.
type ExtractionError struct {
	Kind     ErrorKind
	Platform string
	Message  string
	Stderr   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, KindUnknown if none.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}
