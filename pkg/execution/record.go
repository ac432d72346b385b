package execution

import (
	"time"

	"routeswap/pkg/builder"
	"routeswap/pkg/types"
)

// Status is the outcome of a submitted swap
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	// StatusTimedOut is a record still pending when tracking gave up. It is
	// not terminal: the transaction may still land and a later Track
	// resolves it from the chain.
	StatusTimedOut Status = "timed_out"
)

// Record tracks one submitted intent. Once Confirmed or Failed it never changes.
type Record struct {
	IntentID  string              `json:"intent_id"`
	ChainID   string              `json:"chain_id"`
	Family    types.ChainFamily   `json:"family"`
	Sequence  uint64              `json:"quote_sequence"`
	Swap      builder.Details     `json:"swap"`
	Status    Status              `json:"status"`
	Hash      string              `json:"hash,omitempty"`
	Block     uint64              `json:"block,omitempty"`
	Error     string              `json:"error,omitempty"`
	Reason    types.FailureReason `json:"reason,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func newRecord(intent builder.Intent) *Record {
	now := time.Now()
	return &Record{
		IntentID:  intent.ID(),
		ChainID:   intent.Chain(),
		Family:    intent.Family(),
		Sequence:  intent.QuoteSequence(),
		Swap:      intent.Details(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the record reached Confirmed or Failed
func (r *Record) IsTerminal() bool {
	return r.Status == StatusConfirmed || r.Status == StatusFailed
}

// Err rebuilds the classified error of a failed record
func (r *Record) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return &types.ExecutionError{Reason: r.Reason, Err: errString(r.Error)}
}

type errString string

func (e errString) Error() string { return string(e) }

func (r *Record) timeOut(err error) {
	r.Status = StatusTimedOut
	r.Error = err.Error()
	r.UpdatedAt = time.Now()
}

func (r *Record) fail(reason types.FailureReason, err error) {
	r.Status = StatusFailed
	r.Reason = reason
	if err != nil {
		r.Error = err.Error()
	}
	r.UpdatedAt = time.Now()
}
