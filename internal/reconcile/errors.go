package reconcile

import (
	"context"
	"errors"
	"net"
	"strings"

	"curtailsync/pkg/elexon"
)

// retryableSignatures are database/network failure modes that resolve on
// their own: deadlocks, dropped connections, pool exhaustion.
var retryableSignatures = []string{
	"deadlock",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many connections",
	"timeout",
	"timed out",
}

// isRetryable classifies a per-date failure. Transient API errors and known
// database signatures get retried; everything else is fatal for that date.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *elexon.TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// isTimeout reports whether the failure should count toward the timeout
// statistic rather than the generic failure count.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
