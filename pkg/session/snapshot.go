package session

import (
	"time"

	"routeswap/pkg/route"
)

// QuoteView is the displayed quote in human units
type QuoteView struct {
	Sequence       uint64    `json:"sequence"`
	Kind           string    `json:"kind"`
	TokenIn        string    `json:"token_in"`
	TokenOut       string    `json:"token_out"`
	AmountIn       string    `json:"amount_in"`
	AmountOut      string    `json:"amount_out"`
	AmountInUSD    string    `json:"amount_in_usd,omitempty"`
	AmountOutUSD   string    `json:"amount_out_usd,omitempty"`
	ExecutionPrice string    `json:"execution_price"`
	PriceImpact    string    `json:"price_impact"`
	Severity       string    `json:"severity"`
	Warning        bool      `json:"warning"`
	Fee            *FeeView  `json:"fee,omitempty"`
	Bound          BoundView `json:"bound"`
	Router         string    `json:"router"`
	FetchedAt      time.Time `json:"fetched_at"`
	Expired        bool      `json:"expired"`
}

// FeeView is the protocol fee of a quote
type FeeView struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Bps    uint32 `json:"bps,omitempty"`
	USD    string `json:"usd,omitempty"`
}

// BoundView is the slippage bound at the session default tolerance
type BoundView struct {
	Kind        route.BoundKind `json:"kind"`
	Amount      string          `json:"amount"`
	SlippageBps uint16          `json:"slippage_bps"`
}

// Snapshot is everything a UI needs to render the session
type Snapshot struct {
	ID      string       `json:"id"`
	Chain   string       `json:"chain,omitempty"`
	Status  QuoteStatus  `json:"status"`
	Quote   *QuoteView   `json:"quote,omitempty"`
	Error   string       `json:"error,omitempty"`
	Attempt *AttemptView `json:"attempt,omitempty"`
}

// Snapshot copies the session state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{ID: s.id, Status: s.status}
	if s.deps != nil {
		snap.Chain = s.deps.Config.ID
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if s.summary != nil {
		snap.Quote = s.quoteView(s.summary)
	}
	if s.attempt != nil {
		v := s.attempt.Snapshot()
		snap.Attempt = &v
	}
	return snap
}

// Summary returns the displayed quote, or nil
func (s *Session) Summary() *route.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Attempt returns the latest attempt, or nil
func (s *Session) Attempt() *Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Status returns the quote track state
func (s *Session) Status() QuoteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) quoteView(summary *route.Summary) *QuoteView {
	severity := summary.Severity()
	v := &QuoteView{
		Sequence:       summary.Sequence,
		Kind:           string(summary.Kind),
		TokenIn:        summary.TokenIn.Symbol(),
		TokenOut:       summary.TokenOut.Symbol(),
		AmountIn:       summary.AmountIn.Decimal().String(),
		AmountOut:      summary.AmountOut.Decimal().String(),
		ExecutionPrice: summary.ExecutionPrice.String(),
		PriceImpact:    summary.PriceImpact.String(),
		Severity:       string(severity),
		Warning:        severity.IsWarning(),
		Router:         summary.RouterAddress,
		FetchedAt:      summary.FetchedAt,
		Expired:        summary.Expired(s.now(), s.opts.MaxQuoteAge),
	}
	if summary.AmountInUSD.Valid {
		v.AmountInUSD = summary.AmountInUSD.Decimal.StringFixed(2)
	}
	if summary.AmountOutUSD.Valid {
		v.AmountOutUSD = summary.AmountOutUSD.Decimal.StringFixed(2)
	}
	if fee := summary.Fee; fee != nil {
		v.Fee = &FeeView{
			Token:  fee.Currency.Symbol(),
			Amount: fee.Amount.Decimal().String(),
			Bps:    fee.Bps,
		}
		if fee.USD.Valid {
			v.Fee.USD = fee.USD.Decimal.StringFixed(2)
		}
	}
	if bound, err := route.ComputeBound(summary, s.opts.SlippageBps); err == nil {
		v.Bound = BoundView{
			Kind:        bound.Kind,
			Amount:      bound.Amount.Decimal().String(),
			SlippageBps: bound.SlippageBps,
		}
	}
	return v
}
