// Package session owns the swap a user is composing: the current intent, the
// quote on display and the execution attempt made from it.
//
// The quote track moves Idle -> Quoting -> Quoted and back to Idle on errors,
// reset or a confirmed swap. The attempt track moves Building -> Built ->
// Signing -> Submitting -> Pending -> Confirmed | Failed and runs alongside it.
// A pending attempt the chain has not settled within the track timeout becomes
// TimedOut, which is still in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/config"
	"routeswap/pkg/amount"
	"routeswap/pkg/builder"
	"routeswap/pkg/chain"
	"routeswap/pkg/client"
	"routeswap/pkg/execution"
	"routeswap/pkg/route"
	"routeswap/pkg/types"
	"routeswap/pkg/wallet"
)

// QuoteStatus is the state of the quote track
type QuoteStatus string

const (
	StatusIdle    QuoteStatus = "idle"
	StatusQuoting QuoteStatus = "quoting"
	StatusQuoted  QuoteStatus = "quoted"
)

const defaultPollInterval = 10 * time.Second

var (
	ErrNoChain           = errors.New("no chain selected")
	ErrNoIntent          = errors.New("no swap intent set")
	ErrNotQuoted         = errors.New("no confirmable quote")
	ErrAttemptInProgress = errors.New("a swap is already in progress")
	ErrInvalidIntent     = errors.New("invalid swap intent")
	ErrForeignRecipient  = errors.New("recipient differs from the signing wallet")
)

// Deps are the per-chain collaborators of a session
type Deps struct {
	Config     config.ChainConfig
	Quotes     client.QuoteSource
	Builders   *builder.Registry
	Chain      chain.Chain
	Dispatcher *execution.Dispatcher
	Signer     wallet.Signer
}

// Resolver supplies Deps for a chain ID
type Resolver interface {
	Resolve(ctx context.Context, chainID string) (*Deps, error)
}

// Options are the session-wide defaults
type Options struct {
	SlippageBps  uint16
	Deadline     time.Duration
	MaxQuoteAge  time.Duration
	PollInterval time.Duration
	// RestrictRecipient rejects a confirm whose recipient is not the signer
	RestrictRecipient bool
}

// OptionsFromConfig reads session defaults from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SlippageBps:  cfg.SlippageBps,
		Deadline:     cfg.Deadline,
		MaxQuoteAge:  cfg.MaxQuoteAge,
		PollInterval: cfg.PollInterval,
	}
}

// ConfirmParams override the defaults for one attempt
type ConfirmParams struct {
	// SlippageBps nil uses the session default
	SlippageBps *uint16
	Recipient   string
	Deadline    time.Duration
}

// Session is safe for concurrent use
type Session struct {
	id       string
	resolver Resolver
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger

	mu         sync.Mutex
	deps       *Deps
	builder    builder.Builder
	builderErr error
	fetcher    *client.Fetcher
	intent     *route.Intent
	status     QuoteStatus
	summary    *route.Summary
	lastErr    error
	attempt    *Attempt
}

// New creates an idle session with no chain selected
func New(resolver Resolver, opts Options) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
		status:   StatusIdle,
		logger:   log.With().Str("component", "session").Str("session", id).Logger(),
	}
}

func (s *Session) ID() string { return s.id }

// SetChain selects a chain, dropping the intent, the quote and any attempt
func (s *Session) SetChain(ctx context.Context, chainID string) error {
	deps, err := s.resolver.Resolve(ctx, chainID)
	if err != nil {
		return err
	}
	b, builderErr := deps.Builders.For(deps.Config.Family)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetcher != nil {
		s.fetcher.Invalidate()
	}
	s.deps = deps
	s.builder = b
	s.builderErr = builderErr
	s.fetcher = client.NewFetcher(deps.Quotes)
	s.clearLocked()
	s.attempt = nil
	return nil
}

// SetIntent resolves the tokens and amount on the selected chain, drops the
// current quote and fetches a new one
func (s *Session) SetIntent(ctx context.Context, tokenIn, tokenOut, value string, kind types.SwapKind) error {
	intent, err := s.resolveIntent(tokenIn, tokenOut, value, kind)
	if err != nil {
		if errors.Is(err, ErrNoChain) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	s.mu.Lock()
	s.fetcher.Invalidate()
	s.clearLocked()
	s.intent = intent
	s.mu.Unlock()

	return s.Refresh(ctx)
}

func (s *Session) resolveIntent(tokenIn, tokenOut, value string, kind types.SwapKind) (*route.Intent, error) {
	s.mu.Lock()
	deps := s.deps
	s.mu.Unlock()
	if deps == nil {
		return nil, ErrNoChain
	}
	if kind == "" {
		kind = types.ExactIn
	}
	if kind != types.ExactIn && kind != types.ExactOut {
		return nil, fmt.Errorf("unknown swap kind %q", kind)
	}

	in, err := deps.Config.ResolveToken(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := deps.Config.ResolveToken(tokenOut)
	if err != nil {
		return nil, err
	}
	if in.Equals(out) {
		return nil, fmt.Errorf("cannot swap %s for itself", in.Symbol())
	}

	fixed := in
	if kind == types.ExactOut {
		fixed = out
	}
	amt, err := amount.ParseUnits(value, fixed.Decimals())
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if amt.IsZero() {
		return nil, fmt.Errorf("amount must be greater than 0")
	}

	return &route.Intent{
		ChainID:  deps.Config.ID,
		TokenIn:  in,
		TokenOut: out,
		Amount:   amt,
		Kind:     kind,
	}, nil
}

// Refresh fetches and validates a quote for the current intent. The result is
// stored only when it is still the newest request for the same intent;
// superseded and mismatched quotes are dropped without error.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.intent == nil || s.fetcher == nil {
		s.mu.Unlock()
		return ErrNoIntent
	}
	intent := s.intent
	params := intent.Params()
	fetcher := s.fetcher
	if s.summary == nil {
		s.status = StatusQuoting
	}
	s.mu.Unlock()

	raw, err := fetcher.Fetch(ctx, params)

	s.mu.Lock()
	defer s.mu.Unlock()

	// the intent or chain changed while the request was in flight
	if fetcher != s.fetcher || intent != s.intent {
		s.logger.Debug().Msg("quote discarded for a replaced intent")
		return nil
	}

	if err == nil {
		current := *intent
		current.Sequence = fetcher.Latest()

		var summary *route.Summary
		summary, err = route.Validate(raw, current)
		if err == nil {
			s.summary = summary
			s.status = StatusQuoted
			s.lastErr = nil
			s.logger.Debug().
				Uint64("sequence", summary.Sequence).
				Str("amount_out", summary.AmountOut.String()).
				Str("impact", summary.PriceImpact.String()).
				Msg("quote updated")
			return nil
		}
	}

	if types.IsSilent(err) {
		s.logger.Debug().Err(err).Msg("quote discarded")
		return nil
	}

	s.summary = nil
	s.status = StatusIdle
	s.lastErr = err
	s.logger.Warn().Err(err).Msg("quote failed")
	return err
}

// Poll refreshes the quote every interval while one is displayed and no
// attempt is being built or signed. It returns when ctx is done.
func (s *Session) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.opts.PollInterval
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.shouldPoll() {
				continue
			}
			if err := s.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug().Err(err).Msg("poll refresh failed")
			}
		}
	}
}

func (s *Session) shouldPoll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusQuoted {
		return false
	}
	return s.attempt == nil || !s.attempt.preSubmission()
}

// IsCurrent reports whether sequence is the quote on display
func (s *Session) IsCurrent(sequence uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary != nil && s.summary.Sequence == sequence
}

// Confirm executes the displayed quote. It returns once the transaction is
// submitted; the attempt keeps tracking in the background. An expired quote is
// refreshed and rejected with a StaleQuoteError so the caller re-displays it.
// A user rejection drops the attempt and leaves the quote confirmable. An
// attempt that timed out waiting for the chain still blocks a new confirm
// until Reset or SetChain, since its transaction may land.
func (s *Session) Confirm(ctx context.Context, params ConfirmParams) (*Attempt, error) {
	s.mu.Lock()
	if s.status != StatusQuoted || s.summary == nil {
		s.mu.Unlock()
		return nil, ErrNotQuoted
	}
	if s.attempt != nil && !s.attempt.IsTerminal() {
		s.mu.Unlock()
		return nil, ErrAttemptInProgress
	}
	if s.builderErr != nil {
		s.mu.Unlock()
		return nil, s.builderErr
	}
	summary := s.summary
	if summary.Expired(s.now(), s.opts.MaxQuoteAge) {
		s.mu.Unlock()
		age := summary.Age(s.now()).Round(time.Second)
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return nil, &types.StaleQuoteError{Reason: fmt.Sprintf("quote was %s old and has been refreshed", age)}
	}
	deps := s.deps
	b := s.builder
	attempt := newAttempt(summary.Sequence)
	s.attempt = attempt
	s.mu.Unlock()

	if err := s.execute(ctx, deps, b, summary, params, attempt); err != nil {
		return attempt, err
	}
	return attempt, nil
}

func (s *Session) execute(ctx context.Context, deps *Deps, b builder.Builder, summary *route.Summary, params ConfirmParams, attempt *Attempt) error {
	slippage := s.opts.SlippageBps
	if params.SlippageBps != nil {
		slippage = *params.SlippageBps
	}
	deadline := s.opts.Deadline
	if params.Deadline > 0 {
		deadline = params.Deadline
	}

	bound, err := route.ComputeBound(summary, slippage)
	if err != nil {
		s.dropAttempt(attempt)
		return err
	}

	sender := deps.Signer.Address()
	if sender == "" {
		err := fmt.Errorf("%w: no wallet for %s", types.ErrSignerUnavailable, deps.Config.ID)
		attempt.fail(types.ReasonSignerUnavailable, err)
		return err
	}
	if s.opts.RestrictRecipient && params.Recipient != "" && !sameAddress(deps.Config.Family, sender, params.Recipient) {
		s.dropAttempt(attempt)
		return fmt.Errorf("%w: %s", ErrForeignRecipient, params.Recipient)
	}
	if err := deps.Chain.Preflight(ctx, spendFor(sender, summary, bound)); err != nil {
		attempt.fail(execution.Classify(err), err)
		return err
	}

	intent, err := b.Build(ctx, builder.Request{
		Summary:   summary,
		Bound:     bound,
		Sender:    sender,
		Recipient: params.Recipient,
		Deadline:  s.now().Add(deadline),
		Freshness: s,
	})
	if err != nil {
		if types.IsStale(err) {
			s.dropAttempt(attempt)
			return err
		}
		attempt.fail(execution.Classify(err), err)
		return err
	}
	attempt.built(intent.ID())

	// signing and submission outlive intent changes and request cancellation
	execCtx := context.WithoutCancel(ctx)

	attempt.set(AttemptSigning)
	signed, err := deps.Dispatcher.Sign(execCtx, intent, deps.Signer)
	if err != nil {
		if errors.Is(err, types.ErrUserRejected) {
			s.dropAttempt(attempt)
			return err
		}
		attempt.fail(execution.Classify(err), err)
		return err
	}

	attempt.set(AttemptSubmitting)
	rec, err := deps.Dispatcher.Send(execCtx, intent, signed)
	if err != nil {
		attempt.fail(execution.Classify(err), err)
		return err
	}
	attempt.pending(rec.Hash)

	go s.track(execCtx, deps.Dispatcher, *rec, attempt)
	return nil
}

func (s *Session) track(ctx context.Context, d *execution.Dispatcher, rec execution.Record, attempt *Attempt) {
	for update := range d.Track(ctx, rec) {
		switch update.Status {
		case execution.StatusConfirmed:
			attempt.confirm(update.Block)
			s.settled(attempt)
		case execution.StatusFailed:
			attempt.fail(update.Reason, update.Err())
		case execution.StatusTimedOut:
			attempt.timedOut(update.Error)
		}
	}
}

// settled clears the quote a confirmed attempt was made from, unless the
// user has already moved on to a newer one
func (s *Session) settled(attempt *Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != nil && s.summary.Sequence == attempt.Sequence {
		s.summary = nil
		s.status = StatusIdle
	}
}

func (s *Session) dropAttempt(attempt *Attempt) {
	attempt.abandon()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == attempt {
		s.attempt = nil
	}
}

// Reset drops the intent, the quote and the attempt reference
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetcher != nil {
		s.fetcher.Invalidate()
	}
	s.clearLocked()
	s.attempt = nil
}

func (s *Session) clearLocked() {
	s.intent = nil
	s.summary = nil
	s.lastErr = nil
	s.status = StatusIdle
}

func sameAddress(family types.ChainFamily, a, b string) bool {
	b = strings.TrimSpace(b)
	if family == types.FamilySolana {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// spendFor is what the sender pays in the worst case
func spendFor(sender string, summary *route.Summary, bound route.Bound) chain.Spend {
	spend := chain.Spend{
		Owner:  sender,
		Token:  summary.TokenIn,
		Amount: summary.AmountIn,
	}
	if bound.Kind == route.MaxIn {
		spend.Amount = bound.Amount
	}
	if summary.TokenIn.Family() == types.FamilyEVM && !summary.TokenIn.IsNative() {
		spend.Spender = summary.RouterAddress
	}
	return spend
}
