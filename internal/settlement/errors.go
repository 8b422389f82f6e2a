// Package settlement implements the purchase settlement pipeline: fee
// splitting, transfer construction, checkpoint acquisition, signing,
// broadcast, and confirmation.
package settlement

import (
	"errors"
	"fmt"
)

// ErrorKind is the typed failure taxonomy for the wallet layer. Callers
// branch on the kind to decide whether to retry, prompt the user, or give
// up; they never match on message text.
type ErrorKind string

const (
	// KindConnectionPending: a connect attempt is already in flight.
	KindConnectionPending ErrorKind = "connection_pending"
	// KindNoActiveSession: settle requires a connected session for the buyer.
	KindNoActiveSession ErrorKind = "no_active_session"
	// KindProviderNotInstalled: the requested provider is not usable.
	KindProviderNotInstalled ErrorKind = "provider_not_installed"
	// KindHandoffPending: control left the process for an external wallet
	// application; the connect resumes on the next activation. Recoverable,
	// not a true failure.
	KindHandoffPending ErrorKind = "handoff_pending"
	// KindUserRejected: the user declined a prompt in their wallet.
	KindUserRejected ErrorKind = "user_rejected"
	// KindSigningTimeout: the provider never answered a connect or signing
	// request in time.
	KindSigningTimeout ErrorKind = "signing_timeout"
	// KindInsufficientFunds: buyer balance below price plus network reserve.
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	// KindNetworkUnavailable: checkpoint acquisition exhausted its retries.
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	// KindSubmissionRejected: the network refused the signed transaction.
	KindSubmissionRejected ErrorKind = "submission_rejected"
	// KindExecutionFailed: the transaction was accepted but failed on-chain.
	KindExecutionFailed ErrorKind = "execution_failed"
	// KindConfirmationTimeout: the checkpoint expired before confirmation;
	// the transaction's fate is unknown from here.
	KindConfirmationTimeout ErrorKind = "confirmation_timeout"
	// KindInvalidRequest: the purchase request failed validation.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Recoverable reports whether the caller may simply retry the whole
// operation without any external fix.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindUserRejected, KindSigningTimeout, KindNetworkUnavailable, KindHandoffPending:
		return true
	}
	return false
}

// Error is a kinded wallet layer error.
type Error struct {
	Kind    ErrorKind
	Message string
	// Shortfall is the missing amount in minor units, set for
	// KindInsufficientFunds so callers can name it to the user.
	Shortfall int64
	// Payload carries the raw network error for KindExecutionFailed.
	Payload string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a kinded error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WrapError creates a kinded error around a cause.
func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the kind from an error chain. Unkinded errors report an
// empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
