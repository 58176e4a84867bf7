package failover

import (
	"errors"
	"fmt"
	"strings"
)

// retryableMarkers is the substring rule that decides whether an upstream
// failure may be retried on another account.
var retryableMarkers = []string{"401", "403", "429", "500", "502", "RESOURCE_EXHAUSTED"}

// IsRetryableMessage applies the substring rule to msg.
func IsRetryableMessage(msg string) bool {
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// UpstreamError is raised where an upstream failure is first observed.
type UpstreamError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

// NewUpstreamError builds an UpstreamError whose Retryable flag follows the
// substring rule over its own formatted message.
func NewUpstreamError(status int, code, message string) *UpstreamError {
	e := &UpstreamError{Status: status, Code: code, Message: message}
	e.Retryable = IsRetryableMessage(e.Error())
	return e
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("upstream")
	if e.Status > 0 {
		fmt.Fprintf(&b, " status %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Classify reports whether err permits trying the next account.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable
	}
	return IsRetryableMessage(err.Error())
}

// AllAccountsFailedError is returned when every candidate was exhausted.
type AllAccountsFailedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *AllAccountsFailedError) Error() string {
	if e.Last != nil {
		return e.Last.Error()
	}
	return fmt.Sprintf("all accounts failed for %s", e.Operation)
}

func (e *AllAccountsFailedError) Unwrap() error {
	return e.Last
}
