package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSuperseded is returned for a quote fetch whose result lost to a newer request
	ErrSuperseded = errors.New("quote request superseded")

	ErrUserRejected      = errors.New("user rejected signature request")
	ErrSignerUnavailable = errors.New("signer unavailable")

	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// NoRouteError means the routing service found no viable path
type NoRouteError struct {
	Message string
}

func (e *NoRouteError) Error() string {
	if e.Message == "" {
		return "no route found"
	}
	return fmt.Sprintf("no route found: %s", e.Message)
}

// StaleQuoteError marks a quote that no longer matches the user's current intent
type StaleQuoteError struct {
	Reason string
}

func (e *StaleQuoteError) Error() string {
	return fmt.Sprintf("stale quote: %s", e.Reason)
}

// NetworkError wraps a transport failure talking to the routing service or a chain RPC
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitedError is returned when the routing service throttles us
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// MalformedQuoteError is returned when a service response fails strict parsing
type MalformedQuoteError struct {
	Field  string
	Reason string
}

func (e *MalformedQuoteError) Error() string {
	return fmt.Sprintf("malformed quote: %s: %s", e.Field, e.Reason)
}

// IsSilent reports whether err is handled internally by discarding and re-fetching
func IsSilent(err error) bool {
	var stale *StaleQuoteError
	return errors.Is(err, ErrSuperseded) || errors.As(err, &stale)
}

// IsStale reports whether err is a stale-quote rejection
func IsStale(err error) bool {
	var stale *StaleQuoteError
	return errors.As(err, &stale)
}

// FailureReason is the user-facing category of a failed swap attempt
type FailureReason string

const (
	ReasonUserRejected      FailureReason = "user_rejected"
	ReasonSignerUnavailable FailureReason = "signer_unavailable"
	ReasonSlippageExceeded  FailureReason = "slippage_exceeded"
	ReasonReverted          FailureReason = "reverted"
	ReasonNetwork           FailureReason = "network"
	ReasonInsufficientFunds FailureReason = "insufficient_funds"
)

// ExecutionError is a classified signing, submission or on-chain failure
type ExecutionError struct {
	Reason FailureReason
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
