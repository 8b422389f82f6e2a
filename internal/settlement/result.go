package settlement

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal disposition of a settlement attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result is the terminal value returned by Settle. Never mutated after
// construction.
type Result struct {
	// ID identifies this settlement attempt, distinct from the network
	// transaction reference.
	ID      string    `json:"id"`
	Outcome Outcome   `json:"outcome"`
	// Reference is the network transaction id on success.
	Reference   string    `json:"reference,omitempty"`
	Breakdown   Breakdown `json:"breakdown"`
	Err         *Error    `json:"-"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

func newSuccess(reference string, b Breakdown) Result {
	return Result{
		ID:          uuid.NewString(),
		Outcome:     OutcomeSuccess,
		Reference:   reference,
		Breakdown:   b,
		CompletedAt: time.Now(),
	}
}

func newFailure(err *Error, b Breakdown) Result {
	return Result{
		ID:          uuid.NewString(),
		Outcome:     OutcomeFailure,
		Breakdown:   b,
		Err:         err,
		ErrorKind:   err.Kind,
		CompletedAt: time.Now(),
	}
}
