package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Kind classifies a failed attempt.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
)

// ClassifiedError is the normalized form every failed attempt is mapped to.
type ClassifiedError struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`

	// Permanent disables retries regardless of Kind/Status.
	Permanent bool  `json:"-"`
	Err       error `json:"-"`
}

func (e *ClassifiedError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("%s %d: %s", e.Kind, e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// HTTPError builds an http-kind error for a non-2xx response.
func HTTPError(status int, message string) *ClassifiedError {
	if message == "" {
		message = "unexpected status " + strconv.Itoa(status)
	}
	return &ClassifiedError{Kind: KindHTTP, Status: status, Code: strconv.Itoa(status), Message: message}
}

// NoRetry marks an error as non-retryable.
//
// Senders wrap validation errors or other permanent failures (missing secret,
// malformed address) with NoRetry so the engine won't waste time retrying.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

// Classify is the default error mapper.
//
//   - *ClassifiedError anywhere in the chain is returned as-is
//   - context deadline and net timeouts map to KindTimeout
//   - everything else maps to KindNetwork
//
// NoRetry wrapping sets Permanent.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	permanent := IsNoRetry(err)

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		out := *ce
		out.Permanent = out.Permanent || permanent
		return &out
	}

	out := &ClassifiedError{Kind: KindNetwork, Message: err.Error(), Err: err, Permanent: permanent}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
		out.Code = "ETIMEDOUT"
	case errors.As(err, &ne) && ne.Timeout():
		out.Kind = KindTimeout
		out.Code = "ETIMEDOUT"
	default:
		var ue *url.Error
		if errors.As(err, &ue) {
			out.Code = ue.Op
		}
	}
	return out
}

// DefaultRetryable retries timeouts and network errors always, and HTTP
// errors only for 429 and 5xx.
func DefaultRetryable(e *ClassifiedError) bool {
	if e == nil || e.Permanent {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindHTTP:
		return e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}
