package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"routeswap/config"
	"routeswap/pkg/builder"
	"routeswap/pkg/chain"
	"routeswap/pkg/client"
	"routeswap/pkg/execution"
	"routeswap/pkg/types"
	"routeswap/pkg/wallet"
)

const (
	router   = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
	usdcAddr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdtAddr = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

var testChain = config.ChainConfig{
	ID:            "ethereum",
	Family:        types.FamilyEVM,
	ChainID:       1,
	NativeToken:   config.NativeToken{Symbol: "ETH", Decimals: 18},
	RouterAddress: router,
	Tokens: map[string]config.TokenConfig{
		"USDC": {Address: usdcAddr, Decimals: 6},
		"USDT": {Address: usdtAddr, Decimals: 6},
	},
}

// quoteResponse scripts one call to fakeQuotes. A gated response ignores
// cancellation and resolves only when the gate closes.
type quoteResponse struct {
	out  string
	err  error
	gate chan struct{}
}

type fakeQuotes struct {
	mu        sync.Mutex
	responses []quoteResponse
	calls     int
	started   chan int
}

func (f *fakeQuotes) FetchQuote(ctx context.Context, params client.QuoteParams) (*client.RawRouteQuote, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	r := f.responses[len(f.responses)-1]
	if i < len(f.responses) {
		r = f.responses[i]
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- i
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}

	out := r.out
	if out == "" {
		out = "500000"
	}
	raw := &client.RawRouteQuote{
		ChainID:       params.ChainID,
		Kind:          params.Kind,
		TokenIn:       params.TokenIn,
		TokenOut:      params.TokenOut,
		AmountIn:      params.Amount,
		AmountOut:     out,
		AmountInUSD:   "1.00",
		AmountOutUSD:  "0.50",
		RouterAddress: router,
		ExtraFee:      &client.ExtraFee{ChargeFeeBy: client.ChargeFeeByCurrencyOut, FeeAmount: "10", IsInBps: true},
		FetchedAt:     time.Now(),
	}
	if params.Kind == types.ExactOut {
		raw.AmountIn, raw.AmountOut = out, params.Amount
	}
	return raw, nil
}

func (f *fakeQuotes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBuilder struct {
	before func()
	gate   chan struct{}
	calls  int
}

func (b *fakeBuilder) Family() types.ChainFamily { return types.FamilyEVM }

func (b *fakeBuilder) Build(ctx context.Context, req builder.Request) (builder.Intent, error) {
	b.calls++
	if b.before != nil {
		b.before()
	}
	if b.gate != nil {
		<-b.gate
	}
	if req.Freshness != nil && !req.Freshness.IsCurrent(req.Summary.Sequence) {
		return nil, &types.StaleQuoteError{Reason: "superseded during build"}
	}
	return &builder.EvmIntent{Meta: builder.Meta{
		IntentID: fmt.Sprintf("intent-%d", b.calls),
		ChainID:  req.Summary.ChainID,
		Sequence: req.Summary.Sequence,
	}}, nil
}

type fakeChain struct {
	mu           sync.Mutex
	receipts     []chain.Receipt
	polls        int
	preflightErr error
}

func (f *fakeChain) ID() string                { return "ethereum" }
func (f *fakeChain) Family() types.ChainFamily { return types.FamilyEVM }

func (f *fakeChain) Submit(ctx context.Context, raw []byte) (string, error) { return "0xfeed", nil }

func (f *fakeChain) Status(ctx context.Context, hash string) (chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.receipts) {
		i = len(f.receipts) - 1
	}
	f.polls++
	return f.receipts[i], nil
}

func (f *fakeChain) setReceipts(receipts ...chain.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = receipts
	f.polls = 0
}

func (f *fakeChain) Preflight(ctx context.Context, spend chain.Spend) error { return f.preflightErr }

type fakeSigner struct {
	address string
	err     error
}

func (f fakeSigner) Address() string { return f.address }

func (f fakeSigner) Sign(ctx context.Context, intent builder.Intent) (wallet.SignedTx, error) {
	if f.err != nil {
		return wallet.SignedTx{}, f.err
	}
	return wallet.SignedTx{Raw: []byte{1}, Hash: "0xfeed"}, nil
}

type staticResolver struct{ deps *Deps }

func (r staticResolver) Resolve(ctx context.Context, chainID string) (*Deps, error) {
	if chainID != r.deps.Config.ID {
		return nil, fmt.Errorf("chain '%s' not configured", chainID)
	}
	return r.deps, nil
}

type fixture struct {
	session *Session
	quotes  *fakeQuotes
	builder *fakeBuilder
	chain   *fakeChain
	signer  *fakeSigner
	deps    *Deps
}

func newFixture(t *testing.T, responses ...quoteResponse) *fixture {
	t.Helper()
	if len(responses) == 0 {
		responses = []quoteResponse{{}}
	}
	f := &fixture{
		quotes:  &fakeQuotes{responses: responses},
		builder: &fakeBuilder{},
		chain: &fakeChain{receipts: []chain.Receipt{
			{State: chain.StatePending},
			{State: chain.StatePending},
			{State: chain.StateConfirmed, Block: 42},
		}},
		signer: &fakeSigner{address: "0x1111111111111111111111111111111111111111"},
	}
	deps := &Deps{
		Config:   testChain,
		Quotes:   f.quotes,
		Builders: builder.NewRegistry(f.builder),
		Chain:    f.chain,
		Dispatcher: execution.NewDispatcher(f.chain,
			execution.WithPollInterval(5*time.Millisecond),
			execution.WithTrackTimeout(time.Second),
			execution.WithRateLimit(rate.Inf, 1),
		),
	}
	deps.Signer = signerFunc{f}
	f.deps = deps
	f.session = New(staticResolver{deps: deps}, Options{
		SlippageBps: 50,
		Deadline:    20 * time.Minute,
		MaxQuoteAge: 30 * time.Second,
	})
	require.NoError(t, f.session.SetChain(context.Background(), "ethereum"))
	return f
}

// signerFunc reads the fixture signer at call time so tests can swap it
type signerFunc struct{ f *fixture }

func (s signerFunc) Address() string { return s.f.signer.Address() }

func (s signerFunc) Sign(ctx context.Context, intent builder.Intent) (wallet.SignedTx, error) {
	return s.f.signer.Sign(ctx, intent)
}

func waitDone(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not finish")
	}
}

func TestSession_QuotedShowsFeeAndMinimumReceived(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetIntent(context.Background(), "USDC", "USDT", "1", types.ExactIn))

	snap := f.session.Snapshot()
	assert.Equal(t, StatusQuoted, snap.Status)
	assert.Equal(t, "ethereum", snap.Chain)
	require.NotNil(t, snap.Quote)
	assert.Equal(t, "1", snap.Quote.AmountIn)
	assert.Equal(t, "0.5", snap.Quote.AmountOut)
	require.NotNil(t, snap.Quote.Fee)
	assert.Equal(t, "0.0005", snap.Quote.Fee.Amount)
	assert.Equal(t, "USDT", snap.Quote.Fee.Token)
	assert.Equal(t, "0.4975", snap.Quote.Bound.Amount)
	assert.Equal(t, "50.00%", snap.Quote.PriceImpact)
	assert.True(t, snap.Quote.Warning)
	assert.False(t, snap.Quote.Expired)
}

func TestSession_SetIntentRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.session.SetIntent(ctx, "USDC", "USDC", "1", types.ExactIn), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.SetIntent(ctx, "USDC", "NOPE", "1", types.ExactIn), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.SetIntent(ctx, "USDC", "USDT", "0", types.ExactIn), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.SetIntent(ctx, "USDC", "USDT", "1.0000001", types.ExactIn), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", "sideways"), ErrInvalidIntent)
	assert.Zero(t, f.quotes.callCount())

	idle := New(staticResolver{deps: &Deps{Config: testChain}}, Options{})
	assert.ErrorIs(t, idle.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn), ErrNoChain)
}

func TestSession_LateResponseNeverOverwritesNewer(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t,
		quoteResponse{out: "500000"},
		quoteResponse{out: "400000", gate: gate},
		quoteResponse{out: "450000"},
	)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	f.quotes.started = make(chan int, 4)
	done := make(chan error, 1)
	go func() { done <- f.session.Refresh(ctx) }()
	<-f.quotes.started

	require.NoError(t, f.session.Refresh(ctx))
	close(gate)
	require.NoError(t, <-done, "a superseded quote is dropped silently")

	summary := f.session.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, "450000", summary.AmountOut.String())
}

func TestSession_QuoteForReplacedIntentIsDropped(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t,
		quoteResponse{},
		quoteResponse{gate: gate},
		quoteResponse{},
	)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	f.quotes.started = make(chan int, 4)
	done := make(chan error, 1)
	go func() { done <- f.session.Refresh(ctx) }()
	<-f.quotes.started

	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "2", types.ExactIn))
	close(gate)
	require.NoError(t, <-done)

	summary := f.session.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, "2000000", summary.AmountIn.String())
}

func TestSession_NoRouteReturnsToIdle(t *testing.T) {
	f := newFixture(t, quoteResponse{}, quoteResponse{err: &types.NoRouteError{Message: "no pools"}})
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	var noRoute *types.NoRouteError
	require.ErrorAs(t, f.session.Refresh(ctx), &noRoute)

	snap := f.session.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Quote)
	assert.Contains(t, snap.Error, "no pools")
}

func TestSession_ConfirmRequiresQuote(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Confirm(context.Background(), ConfirmParams{})
	assert.ErrorIs(t, err, ErrNotQuoted)
}

func TestSession_ConfirmExpiredRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))
	f.session.now = func() time.Time { return time.Now().Add(time.Minute) }

	_, err := f.session.Confirm(ctx, ConfirmParams{})
	assert.True(t, types.IsStale(err))
	assert.Equal(t, 2, f.quotes.callCount())
	assert.Equal(t, StatusQuoted, f.session.Status())
	assert.Zero(t, f.builder.calls)
	assert.Nil(t, f.session.Attempt())
}

func TestSession_ConfirmTracksUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", attempt.Snapshot().Hash)
	assert.Equal(t, "intent-1", attempt.Snapshot().IntentID)

	waitDone(t, attempt)
	view := attempt.Snapshot()
	assert.Equal(t, AttemptConfirmed, view.Status)
	assert.Equal(t, uint64(42), view.Block)
	assert.NoError(t, attempt.Err())

	assert.Eventually(t, func() bool { return f.session.Status() == StatusIdle }, time.Second, 5*time.Millisecond)
	assert.Nil(t, f.session.Summary())
}

func TestSession_ConfirmedAttemptKeepsNewerQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	require.NoError(t, err)
	require.NoError(t, f.session.Refresh(ctx))

	waitDone(t, attempt)
	assert.Equal(t, AttemptConfirmed, attempt.Status())
	assert.Equal(t, StatusQuoted, f.session.Status())
	require.NotNil(t, f.session.Summary())
	assert.NotEqual(t, attempt.Sequence, f.session.Summary().Sequence)
}

func TestSession_UserRejectionKeepsQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))
	f.signer.err = types.ErrUserRejected

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.Equal(t, AttemptAbandoned, attempt.Status())
	assert.Nil(t, f.session.Attempt())
	assert.Equal(t, StatusQuoted, f.session.Status())
	assert.Empty(t, f.session.deps.Dispatcher.Journal().List())

	f.signer.err = nil
	attempt, err = f.session.Confirm(ctx, ConfirmParams{})
	require.NoError(t, err)
	waitDone(t, attempt)
}

func TestSession_PreflightFailureFailsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))
	f.chain.preflightErr = fmt.Errorf("%w: have 0", types.ErrInsufficientBalance)

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	require.Error(t, err)
	assert.Equal(t, AttemptFailed, attempt.Status())

	var execErr *types.ExecutionError
	require.ErrorAs(t, attempt.Err(), &execErr)
	assert.Equal(t, types.ReasonInsufficientFunds, execErr.Reason)
	assert.Equal(t, StatusQuoted, f.session.Status())
	assert.Zero(t, f.builder.calls)
}

func TestSession_MissingWalletFailsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))
	f.signer.address = ""

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	assert.ErrorIs(t, err, types.ErrSignerUnavailable)
	assert.Equal(t, types.ReasonSignerUnavailable, attempt.Snapshot().Reason)
}

func TestSession_QuoteReplacedDuringBuildIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))
	f.builder.before = func() {
		require.NoError(t, f.session.Refresh(ctx))
	}

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	assert.True(t, types.IsStale(err))
	assert.Equal(t, AttemptAbandoned, attempt.Status())
	assert.Nil(t, f.session.Attempt())
	assert.Equal(t, StatusQuoted, f.session.Status())
}

func TestSession_OneAttemptAtATime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	started := make(chan struct{})
	f.builder.gate = make(chan struct{})
	f.builder.before = func() { close(started) }

	type result struct {
		attempt *Attempt
		err     error
	}
	done := make(chan result, 1)
	go func() {
		a, err := f.session.Confirm(ctx, ConfirmParams{})
		done <- result{a, err}
	}()
	<-started

	assert.False(t, f.session.shouldPoll(), "polling pauses while building")
	_, err := f.session.Confirm(ctx, ConfirmParams{})
	assert.ErrorIs(t, err, ErrAttemptInProgress)

	close(f.builder.gate)
	r := <-done
	require.NoError(t, r.err)
	waitDone(t, r.attempt)
}

func TestSession_InvalidSlippageOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	bps := uint16(10001)
	_, err := f.session.Confirm(ctx, ConfirmParams{SlippageBps: &bps})
	assert.Error(t, err)
	assert.Nil(t, f.session.Attempt())
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	f.session.Reset()
	snap := f.session.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Quote)
	assert.ErrorIs(t, f.session.Refresh(ctx), ErrNoIntent)
}

func TestSession_ExactOutQuote(t *testing.T) {
	f := newFixture(t, quoteResponse{out: "1010000"})
	require.NoError(t, f.session.SetIntent(context.Background(), "USDC", "USDT", "1", types.ExactOut))

	snap := f.session.Snapshot()
	require.NotNil(t, snap.Quote)
	assert.Equal(t, "1.01", snap.Quote.AmountIn)
	assert.Equal(t, "max_in", string(snap.Quote.Bound.Kind))
	assert.Equal(t, "1.01505", snap.Quote.Bound.Amount)
}

func TestAttempt_OnlyMovesForward(t *testing.T) {
	a := newAttempt(7)
	assert.True(t, a.preSubmission())

	a.built("intent")
	a.set(AttemptSigning)
	a.set(AttemptBuilding)
	assert.Equal(t, AttemptSigning, a.Status())

	a.set(AttemptSubmitting)
	assert.False(t, a.preSubmission())
	a.pending("0xabc")
	a.confirm(9)
	a.fail(types.ReasonNetwork, errors.New("late"))

	view := a.Snapshot()
	assert.Equal(t, AttemptConfirmed, view.Status)
	assert.Empty(t, view.Reason)
	assert.Equal(t, "0xabc", view.Hash)
	assert.Equal(t, uint64(7), view.Sequence)

	select {
	case <-a.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestSession_TimedOutAttemptBlocksSecondConfirm(t *testing.T) {
	f := newFixture(t)
	f.chain.setReceipts(chain.Receipt{State: chain.StatePending})
	f.deps.Dispatcher = execution.NewDispatcher(f.chain,
		execution.WithPollInterval(5*time.Millisecond),
		execution.WithTrackTimeout(30*time.Millisecond),
		execution.WithRateLimit(rate.Inf, 1),
	)
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	attempt, err := f.session.Confirm(ctx, ConfirmParams{})
	require.NoError(t, err)
	select {
	case <-attempt.Stalled():
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not time out")
	}

	view := attempt.Snapshot()
	assert.Equal(t, AttemptTimedOut, view.Status)
	assert.False(t, attempt.IsTerminal())
	assert.Contains(t, view.Error, "not confirmed within")
	assert.NoError(t, attempt.Err())

	_, err = f.session.Confirm(ctx, ConfirmParams{})
	assert.ErrorIs(t, err, ErrAttemptInProgress, "the first transaction may still land")
	assert.Equal(t, 1, f.builder.calls)

	f.session.Reset()
	assert.Nil(t, f.session.Attempt())
}

func TestAttempt_LateConfirmKeepsTerminalState(t *testing.T) {
	a := newAttempt(1)
	a.fail(types.ReasonNetwork, errors.New("boom"))
	a.confirm(99)

	view := a.Snapshot()
	assert.Equal(t, AttemptFailed, view.Status)
	assert.Zero(t, view.Block)

	b := newAttempt(2)
	b.pending("0xfeed")
	b.timedOut("slow")
	b.confirm(12)
	assert.Equal(t, AttemptConfirmed, b.Status())
	assert.Equal(t, uint64(12), b.Snapshot().Block)
}

func TestSession_RestrictRecipient(t *testing.T) {
	f := newFixture(t)
	f.session.opts.RestrictRecipient = true
	f.signer.address = "0xAbCdEf0000000000000000000000000000000001"
	ctx := context.Background()
	require.NoError(t, f.session.SetIntent(ctx, "USDC", "USDT", "1", types.ExactIn))

	_, err := f.session.Confirm(ctx, ConfirmParams{Recipient: "0x000000000000000000000000000000000000dEaD"})
	assert.ErrorIs(t, err, ErrForeignRecipient)
	assert.Zero(t, f.builder.calls, "nothing is built for a foreign recipient")
	assert.Nil(t, f.session.Attempt())
	assert.Equal(t, StatusQuoted, f.session.Status())

	attempt, err := f.session.Confirm(ctx, ConfirmParams{Recipient: "0xabcdef0000000000000000000000000000000001"})
	require.NoError(t, err)
	waitDone(t, attempt)
	assert.Equal(t, AttemptConfirmed, attempt.Status())
}
