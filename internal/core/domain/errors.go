package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	ErrNotInitialized     = errors.New("backend not initialized")
	ErrBackendUnavailable = errors.New("retrieval backend unavailable")
	ErrProviderQuota      = errors.New("provider quota exceeded")
	ErrProvider           = errors.New("provider error")
	ErrFailoverExhausted  = errors.New("provider failover exhausted")
	ErrCachePersistence   = errors.New("cache persistence failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

var quotaMarkers = []string{
	"usage limits",
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource_exhausted",
}

// IsQuotaMessage reports whether a provider error message describes a quota
// or rate-limit condition. Providers word this differently, so the check is
// on the message rather than on transport status codes.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
