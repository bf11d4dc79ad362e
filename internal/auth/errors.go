// Package auth implements the login token cache for the bears harness: one
// access/refresh token pair per cache, lazily fetched from an identity
// provider and refreshed once its age crosses the configured threshold.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for failure-kind assertions.
// Use errors.Is(err, auth.ErrLoginFailed) to check.
var (
	ErrLoginFailed       = errors.New("auth: login failed")
	ErrRefreshFailed     = errors.New("auth: refresh failed")
	ErrMalformedResponse = errors.New("auth: malformed identity provider response")
)

// AuthError wraps a sentinel error with the operation, the HTTP status (zero
// when the call never produced a response), and a details map holding the
// field values involved. Token values and passwords are never included.
type AuthError struct {
	Op         string // "login" or "refresh"
	StatusCode int
	Message    string
	Details    map[string]string
	Err        error // sentinel, for errors.Is()
}

func (e *AuthError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "auth: %s", e.Op)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, e.Details[k]))
		}

		fmt.Fprintf(&b, " (%s)", strings.Join(parts, " "))
	}

	return b.String()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
