package client

import (
	"context"
	"sync"

	"routeswap/pkg/metrics"
	"routeswap/pkg/types"
)

// QuoteSource is anything that can produce a raw quote
type QuoteSource interface {
	FetchQuote(ctx context.Context, params QuoteParams) (*RawRouteQuote, error)
}

// Fetcher serializes quote requests for one session. Each call gets the next
// sequence number and cancels the previous call; a result that resolves after
// a newer call started is dropped with ErrSuperseded.
type Fetcher struct {
	source QuoteSource

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewFetcher creates a fetcher over a quote source
func NewFetcher(source QuoteSource) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch issues a quote request and stamps the result with its sequence
func (f *Fetcher) Fetch(ctx context.Context, params QuoteParams) (*RawRouteQuote, error) {
	ctx, seq := f.begin(ctx)

	quote, err := f.source.FetchQuote(ctx, params)

	if !f.isLatest(seq) {
		metrics.QuotesDiscarded.WithLabelValues("superseded").Inc()
		return nil, types.ErrSuperseded
	}
	f.finish(seq)
	if err != nil {
		return nil, err
	}
	quote.Sequence = seq
	return quote, nil
}

// Invalidate supersedes any in-flight request without starting a new one
func (f *Fetcher) Invalidate() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return f.seq
}

// Latest returns the newest sequence handed out
func (f *Fetcher) Latest() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

func (f *Fetcher) begin(parent context.Context) (context.Context, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	f.seq++
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	return ctx, f.seq
}

func (f *Fetcher) finish(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seq == seq && f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Fetcher) isLatest(seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq == seq
}
