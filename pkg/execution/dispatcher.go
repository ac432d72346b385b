// Package execution signs, submits and tracks transaction intents until they
// reach a terminal outcome, journaling every record.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"routeswap/pkg/builder"
	"routeswap/pkg/chain"
	"routeswap/pkg/metrics"
	"routeswap/pkg/types"
	"routeswap/pkg/wallet"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTrackTimeout = 3 * time.Minute
)

// Dispatcher executes intents on one chain
type Dispatcher struct {
	chain        chain.Chain
	journal      *Journal
	limiter      *rate.Limiter
	pollInterval time.Duration
	timeout      time.Duration
	logger       zerolog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPollInterval sets how often Track asks the chain for status
func WithPollInterval(d time.Duration) Option {
	return func(x *Dispatcher) {
		x.pollInterval = d
	}
}

// WithTrackTimeout sets how long Track waits for a pending record before
// reporting it TimedOut
func WithTrackTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		x.timeout = d
	}
}

// WithRateLimit caps status RPC calls across all tracked records
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(x *Dispatcher) {
		x.limiter = rate.NewLimiter(r, burst)
	}
}

// WithJournal persists records to j
func WithJournal(j *Journal) Option {
	return func(x *Dispatcher) {
		x.journal = j
	}
}

// NewDispatcher creates a dispatcher for ch. Without WithJournal records are
// kept in memory.
func NewDispatcher(ch chain.Chain, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		chain:        ch,
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTrackTimeout,
		logger:       log.With().Str("component", "dispatcher").Str("chain", ch.ID()).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.journal == nil {
		d.journal, _ = NewJournal("")
	}
	return d
}

// Journal returns the record store
func (d *Dispatcher) Journal() *Journal { return d.journal }

// Sign asks the signer to sign intent. Errors are *types.ExecutionError.
func (d *Dispatcher) Sign(ctx context.Context, intent builder.Intent, signer wallet.Signer) (wallet.SignedTx, error) {
	if intent.Chain() != d.chain.ID() {
		return wallet.SignedTx{}, fmt.Errorf("intent for chain %s dispatched to %s", intent.Chain(), d.chain.ID())
	}

	signed, err := signer.Sign(ctx, intent)
	if err != nil {
		reason := Classify(err)
		d.logger.Warn().Err(err).Str("intent", intent.ID()).Str("reason", string(reason)).Msg("signing failed")
		return wallet.SignedTx{}, &types.ExecutionError{Reason: reason, Err: err}
	}
	return signed, nil
}

// Send broadcasts a signed intent and journals the record. A rejected
// broadcast yields a Failed record together with the error.
func (d *Dispatcher) Send(ctx context.Context, intent builder.Intent, signed wallet.SignedTx) (*Record, error) {
	rec := newRecord(intent)
	rec.Hash = signed.Hash

	hash, err := d.chain.Submit(ctx, signed.Raw)
	if err != nil {
		reason := Classify(err)
		rec.fail(reason, err)
		d.finish(*rec)
		if jerr := d.journal.Create(rec); jerr != nil {
			d.logger.Error().Err(jerr).Str("intent", rec.IntentID).Msg("failed to journal record")
		}
		d.logger.Warn().Err(err).Str("intent", rec.IntentID).Str("reason", string(reason)).Msg("submission failed")
		return rec, &types.ExecutionError{Reason: reason, Err: err}
	}

	rec.Hash = hash
	if err := d.journal.Create(rec); err != nil {
		return nil, fmt.Errorf("failed to journal record: %w", err)
	}
	d.logger.Info().Str("intent", rec.IntentID).Str("hash", hash).Msg("swap submitted")
	return rec, nil
}

// Submit signs and sends
func (d *Dispatcher) Submit(ctx context.Context, intent builder.Intent, signer wallet.Signer) (*Record, error) {
	signed, err := d.Sign(ctx, intent, signer)
	if err != nil {
		return nil, err
	}
	return d.Send(ctx, intent, signed)
}

// Track polls the chain and emits each status change of rec until it is
// Confirmed or Failed, then closes the channel. A record still pending after
// the track timeout is emitted and journaled as TimedOut; tracking it again
// picks up where the chain is. Cancelling ctx stops tracking and leaves the
// record as it was in the journal.
func (d *Dispatcher) Track(ctx context.Context, rec Record) <-chan Record {
	out := make(chan Record, 4)

	go func() {
		defer close(out)

		if rec.IsTerminal() {
			send(ctx, out, rec)
			return
		}
		if rec.Status == StatusTimedOut {
			rec.Status = StatusPending
			rec.Error = ""
		}

		deadline := time.NewTimer(d.timeout)
		defer deadline.Stop()
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		for {
			if done := d.poll(ctx, &rec); done {
				send(ctx, out, rec)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-deadline.C:
				rec.timeOut(fmt.Errorf("transaction %s not confirmed within %s", rec.Hash, d.timeout))
				d.update(rec)
				d.logger.Warn().Str("intent", rec.IntentID).Str("hash", rec.Hash).Msg("stopped tracking unconfirmed swap")
				send(ctx, out, rec)
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// poll checks the chain once. It returns true when rec became terminal.
func (d *Dispatcher) poll(ctx context.Context, rec *Record) bool {
	if err := d.limiter.Wait(ctx); err != nil {
		return false
	}

	receipt, err := d.chain.Status(ctx, rec.Hash)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Warn().Err(err).Str("hash", rec.Hash).Msg("status check failed")
		}
		return false
	}

	switch receipt.State {
	case chain.StateConfirmed:
		rec.Status = StatusConfirmed
		rec.Block = receipt.Block
		rec.UpdatedAt = time.Now()
	case chain.StateFailed:
		rec.Block = receipt.Block
		rec.fail(ClassifyFailure(receipt.Detail), errors.New(receipt.Detail))
	default:
		return false
	}

	d.finish(*rec)
	d.update(*rec)
	d.logger.Info().
		Str("intent", rec.IntentID).
		Str("hash", rec.Hash).
		Str("status", string(rec.Status)).
		Str("reason", string(rec.Reason)).
		Msg("swap settled")
	return true
}

func (d *Dispatcher) update(rec Record) {
	if err := d.journal.Update(&rec); err != nil && !errors.Is(err, ErrNotFound) {
		d.logger.Error().Err(err).Str("intent", rec.IntentID).Msg("failed to journal record")
	}
}

func (d *Dispatcher) finish(rec Record) {
	metrics.Executions.WithLabelValues(string(rec.Family), string(rec.Status), string(rec.Reason)).Inc()
	metrics.ConfirmationDuration.WithLabelValues(string(rec.Family)).Observe(rec.UpdatedAt.Sub(rec.CreatedAt).Seconds())
}

func send(ctx context.Context, out chan<- Record, rec Record) {
	select {
	case out <- rec:
	case <-ctx.Done():
	}
}
