package session

import (
	"sync"
	"time"

	"routeswap/pkg/types"
)

// AttemptStatus is the state of the execution track
type AttemptStatus string

const (
	AttemptBuilding   AttemptStatus = "building"
	AttemptBuilt      AttemptStatus = "built"
	AttemptSigning    AttemptStatus = "signing"
	AttemptSubmitting AttemptStatus = "submitting"
	AttemptPending    AttemptStatus = "pending"
	// AttemptTimedOut is a submitted transaction that was not seen on chain
	// within the track timeout. It may still land, so it is not terminal.
	AttemptTimedOut  AttemptStatus = "timed_out"
	AttemptConfirmed AttemptStatus = "confirmed"
	AttemptFailed    AttemptStatus = "failed"
	// AttemptAbandoned is an attempt dropped before anything was sent
	AttemptAbandoned AttemptStatus = "abandoned"
)

// Attempt is one execution of one quote. It is safe for concurrent use and
// its status only moves forward.
type Attempt struct {
	// Sequence is the quote the attempt was made from
	Sequence uint64

	mu        sync.Mutex
	status    AttemptStatus
	intentID  string
	hash      string
	block     uint64
	reason    types.FailureReason
	err       error
	startedAt time.Time
	updatedAt time.Time
	done      chan struct{}
	stalled   chan struct{}
}

// AttemptView is a point-in-time copy of an attempt
type AttemptView struct {
	Sequence  uint64              `json:"sequence"`
	Status    AttemptStatus       `json:"status"`
	IntentID  string              `json:"intent_id,omitempty"`
	Hash      string              `json:"hash,omitempty"`
	Block     uint64              `json:"block,omitempty"`
	Reason    types.FailureReason `json:"reason,omitempty"`
	Error     string              `json:"error,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func newAttempt(sequence uint64) *Attempt {
	now := time.Now()
	return &Attempt{
		Sequence:  sequence,
		status:    AttemptBuilding,
		startedAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
		stalled:   make(chan struct{}),
	}
}

var attemptOrder = map[AttemptStatus]int{
	AttemptBuilding:   0,
	AttemptBuilt:      1,
	AttemptSigning:    2,
	AttemptSubmitting: 3,
	AttemptPending:    4,
	AttemptTimedOut:   5,
}

func isTerminal(s AttemptStatus) bool {
	return s == AttemptConfirmed || s == AttemptFailed || s == AttemptAbandoned
}

// Status returns the current status
func (a *Attempt) Status() AttemptStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsTerminal reports whether the attempt is confirmed, failed or abandoned
func (a *Attempt) IsTerminal() bool {
	return isTerminal(a.Status())
}

// Err returns the failure as a *types.ExecutionError, or nil
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != AttemptFailed {
		return nil
	}
	return &types.ExecutionError{Reason: a.reason, Err: a.err}
}

// Done is closed when the attempt reaches a terminal status
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Stalled is closed when the attempt times out waiting for the chain
func (a *Attempt) Stalled() <-chan struct{} { return a.stalled }

// Snapshot copies the attempt
func (a *Attempt) Snapshot() AttemptView {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := AttemptView{
		Sequence:  a.Sequence,
		Status:    a.status,
		IntentID:  a.intentID,
		Hash:      a.hash,
		Block:     a.block,
		Reason:    a.reason,
		StartedAt: a.startedAt,
		UpdatedAt: a.updatedAt,
	}
	if a.err != nil {
		v.Error = a.err.Error()
	}
	return v
}

// preSubmission is true until the transaction has been handed to the chain
func (a *Attempt) preSubmission() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !isTerminal(a.status) && attemptOrder[a.status] < attemptOrder[AttemptSubmitting]
}

// set advances a non-terminal status. Backward moves are ignored.
func (a *Attempt) set(status AttemptStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advanceLocked(status)
}

func (a *Attempt) advanceLocked(status AttemptStatus) bool {
	if isTerminal(a.status) {
		return false
	}
	if !isTerminal(status) && attemptOrder[status] < attemptOrder[a.status] {
		return false
	}
	a.status = status
	a.updatedAt = time.Now()
	if isTerminal(status) {
		close(a.done)
	}
	return true
}

func (a *Attempt) built(intentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advanceLocked(AttemptBuilt) {
		a.intentID = intentID
	}
}

func (a *Attempt) pending(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advanceLocked(AttemptPending) {
		a.hash = hash
	}
}

func (a *Attempt) confirm(block uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advanceLocked(AttemptConfirmed) {
		a.block = block
	}
}

func (a *Attempt) timedOut(detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advanceLocked(AttemptTimedOut) {
		a.err = errString(detail)
		close(a.stalled)
	}
}

func (a *Attempt) fail(reason types.FailureReason, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if isTerminal(a.status) {
		return
	}
	a.reason = reason
	a.err = err
	a.advanceLocked(AttemptFailed)
}

func (a *Attempt) abandon() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advanceLocked(AttemptAbandoned)
}

type errString string

func (e errString) Error() string { return string(e) }
