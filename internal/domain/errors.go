package domain

import (
	"errors"
	"fmt"
	"strings"
)

// VerificationError is returned when a webhook handshake is rejected.
type VerificationError struct {
	Platform Platform
	Reason   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s webhook verification failed: %s", e.Platform, e.Reason)
}

// SignatureError is returned when a webhook body fails HMAC verification.
type SignatureError struct {
	Platform Platform
	Header   string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s signature check failed (%s): %s", e.Platform, e.Header, e.Reason)
}

// ParseError is returned when a webhook body is not valid JSON.
type ParseError struct {
	Platform Platform
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s webhook body is not valid JSON: %v", e.Platform, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is the terminal error of a responder backend after its
// retries (and any fallback) are exhausted.
type ProviderError struct {
	Provider string
	Attempts int
	Capacity bool // final error was rate-limit or capacity related
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KnowledgeLookupError wraps a failed knowledge search. It is always recovered
// by treating the knowledge set as empty.
type KnowledgeLookupError struct {
	Query string
	Err   error
}

func (e *KnowledgeLookupError) Error() string {
	return fmt.Sprintf("knowledge lookup for %q failed: %v", e.Query, e.Err)
}

func (e *KnowledgeLookupError) Unwrap() error { return e.Err }

// IsVerificationError reports whether err is or wraps a *VerificationError.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// IsSignatureError reports whether err is or wraps a *SignatureError.
func IsSignatureError(err error) bool {
	var se *SignatureError
	return errors.As(err, &se)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var capacityMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"too many requests",
	"capacity",
	"overloaded",
	"quota",
	"resource exhausted",
	"503",
}

// IsCapacityError reports whether err looks like a rate-limit or capacity
// failure. Matching is by case-insensitive substring of the error text.
func IsCapacityError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range capacityMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
