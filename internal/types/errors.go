package types

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError is fatal and never retried.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Msg)
}

// TransientProviderError is a timeout, rate limit, 5xx or network failure.
// RetryAfter > 0 marks a rate-limit signal carrying the server's requested delay.
type TransientProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientProviderError) Error() string {
	switch {
	case e.RetryAfter > 0:
		return fmt.Sprintf("%s rate limited (status %d, retry after %s): %v", e.Provider, e.StatusCode, e.RetryAfter, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s transient error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
	}
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// IsRateLimit reports whether the error carries a retry-after signal.
func (e *TransientProviderError) IsRateLimit() bool {
	return e.RetryAfter > 0 || e.StatusCode == 429
}

// MalformedResponseError is returned when provider output cannot be parsed or recovered.
type MalformedResponseError struct {
	Chunk Chunk
	Raw   string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for %s: %v", e.Chunk, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// BatchJobError is returned when a batch job cannot produce results.
// The orchestrator falls back to sequential dispatch on this error.
type BatchJobError struct {
	JobID  string
	Status string
	Err    error
}

func (e *BatchJobError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("batch job %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("batch job %s %s: %v", e.JobID, e.Status, e.Err)
}

func (e *BatchJobError) Unwrap() error { return e.Err }

// AllChunksFailedError is returned when zero chunks of a document succeeded.
type AllChunksFailedError struct {
	Chunks  int
	LastErr error
}

func (e *AllChunksFailedError) Error() string {
	return fmt.Sprintf("all %d chunks failed: %v", e.Chunks, e.LastErr)
}

func (e *AllChunksFailedError) Unwrap() error { return e.LastErr }

// DocumentError wraps every fatal processing error with the document identity
// and the state it failed in.
type DocumentError struct {
	Document string
	State    string
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s failed in %s: %v", e.Document, e.State, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientProviderError.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}
