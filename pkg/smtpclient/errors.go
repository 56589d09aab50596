package smtpclient

import (
	"fmt"
	"time"
)

// ConnectionError covers network-level failures (dial, TLS handshake,
// timeouts). Always retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smtp connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a non-2xx SMTP reply. 4xx replies are retryable, 5xx
// are terminal unless classified as a misworded soft bounce.
type ProtocolError struct {
	Command string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp %s rejected: %d %s", e.Command, e.Code, e.Message)
}

func (e *ProtocolError) Temporary() bool { return e.Code >= 400 && e.Code < 500 }

// AuthenticationError means the relay rejected the configured
// credentials. Terminal; retrying per message cannot help.
type AuthenticationError struct {
	Mechanism string
	Reply     string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("smtp auth (%s) rejected: %s", e.Mechanism, e.Reply)
}

// RateLimitError is synthesized by the pre-flight domain budget check.
// No network attempt was made.
type RateLimitError struct {
	Domain     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit for domain %s exceeded, retry after %s", e.Domain, e.RetryAfter)
}

// SuppressionError means every recipient of the request is on the
// suppression list. Terminal; no network attempt was made.
type SuppressionError struct {
	Recipients []string
}

func (e *SuppressionError) Error() string {
	return fmt.Sprintf("all %d recipients suppressed", len(e.Recipients))
}

// SigningError wraps a DKIM failure. Non-fatal: the message is sent
// unsigned and the error is only logged.
type SigningError struct {
	Domain string
	Err    error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("dkim signing failed for %s: %v", e.Domain, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }
