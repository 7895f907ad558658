package videoloft

import (
	"errors"
	"fmt"
)

// AuthError reports rejected credentials or an unusable login response
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("videoloft auth: %s: %v", e.Reason, e.Err)
	}
	return "videoloft auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnectivityError reports a network failure or timeout talking to a vendor host
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("videoloft %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx vendor response
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("videoloft %s: status %d: %s", e.Op, e.StatusCode, body)
}

// DataIntegrityError reports a malformed payload or a missing required field
type DataIntegrityError struct {
	What string
	Err  error
}

func (e *DataIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("videoloft data: %s: %v", e.What, e.Err)
	}
	return "videoloft data: " + e.What
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is or wraps an AuthError
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsConnectivityError reports whether err is or wraps a ConnectivityError
func IsConnectivityError(err error) bool {
	var target *ConnectivityError
	return errors.As(err, &target)
}

// StatusCode returns the vendor status code carried by err, or 0
func StatusCode(err error) int {
	var target *UpstreamError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}
