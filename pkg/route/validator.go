// Package route turns untrusted routing service quotes into typed summaries and
// derives the numbers shown to the user: fee, price impact and the slippage bound.
package route

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"routeswap/pkg/amount"
	"routeswap/pkg/client"
	"routeswap/pkg/metrics"
	"routeswap/pkg/types"
)

// Intent is what the user currently wants quoted
type Intent struct {
	ChainID  string
	TokenIn  types.Currency
	TokenOut types.Currency
	// Amount is the fixed side: input for exact-in, output for exact-out
	Amount   amount.Amount
	Kind     types.SwapKind
	Sequence uint64
}

// Params returns the quote request for this intent
func (i Intent) Params() client.QuoteParams {
	return client.QuoteParams{
		ChainID:  i.ChainID,
		TokenIn:  i.TokenIn.Address(),
		TokenOut: i.TokenOut.Address(),
		Amount:   i.Amount.String(),
		Kind:     i.Kind,
	}
}

// Summary is a validated quote. It is never modified after Validate returns it.
type Summary struct {
	ChainID  string
	Kind     types.SwapKind
	TokenIn  types.Currency
	TokenOut types.Currency

	AmountIn     amount.Amount
	AmountOut    amount.Amount
	AmountInUSD  decimal.NullDecimal
	AmountOutUSD decimal.NullDecimal

	// ExecutionPrice is output per unit of input in human units
	ExecutionPrice decimal.Decimal
	PriceImpact    PriceImpact
	Fee            *Fee

	RouterAddress string
	Route         [][]client.Hop
	RawSummary    json.RawMessage

	Sequence  uint64
	Timestamp int64
	FetchedAt time.Time
}

// Age is how long ago the quote was fetched
func (s *Summary) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Expired reports whether the quote is too old to confirm
func (s *Summary) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && s.Age(now) > maxAge
}

// Severity is the price impact band of this quote
func (s *Summary) Severity() Severity {
	return Classify(s.PriceImpact)
}

// Validate checks a raw quote against the current intent and lifts it into a
// Summary. A quote for anything other than the current intent is rejected with
// StaleQuoteError, which callers discard silently.
func Validate(raw *client.RawRouteQuote, intent Intent) (*Summary, error) {
	if raw == nil {
		return nil, &types.MalformedQuoteError{Field: "quote", Reason: "missing"}
	}
	if intent.Kind == "" {
		intent.Kind = types.ExactIn
	}

	if reason := mismatch(raw, intent); reason != "" {
		metrics.QuotesDiscarded.WithLabelValues("mismatch").Inc()
		return nil, &types.StaleQuoteError{Reason: reason}
	}

	in, err := amount.Parse(raw.AmountIn, intent.TokenIn.Decimals())
	if err != nil {
		return nil, &types.MalformedQuoteError{Field: "amountIn", Reason: err.Error()}
	}
	out, err := amount.Parse(raw.AmountOut, intent.TokenOut.Decimals())
	if err != nil {
		return nil, &types.MalformedQuoteError{Field: "amountOut", Reason: err.Error()}
	}
	if in.IsZero() {
		return nil, &types.MalformedQuoteError{Field: "amountIn", Reason: "zero"}
	}

	fixed := in
	if intent.Kind == types.ExactOut {
		fixed = out
	}
	if !fixed.Equal(intent.Amount) {
		metrics.QuotesDiscarded.WithLabelValues("mismatch").Inc()
		return nil, &types.StaleQuoteError{Reason: fmt.Sprintf("amount %s does not match %s", fixed, intent.Amount)}
	}

	s := &Summary{
		ChainID:       raw.ChainID,
		Kind:          intent.Kind,
		TokenIn:       intent.TokenIn,
		TokenOut:      intent.TokenOut,
		AmountIn:      in,
		AmountOut:     out,
		RouterAddress: raw.RouterAddress,
		Route:         raw.Route,
		RawSummary:    raw.Summary,
		Sequence:      raw.Sequence,
		Timestamp:     raw.Timestamp,
		FetchedAt:     raw.FetchedAt,
	}
	if s.FetchedAt.IsZero() {
		s.FetchedAt = time.Now()
	}

	if s.AmountInUSD, err = nullDecimal("amountInUsd", raw.AmountInUSD); err != nil {
		return nil, err
	}
	if s.AmountOutUSD, err = nullDecimal("amountOutUsd", raw.AmountOutUSD); err != nil {
		return nil, err
	}

	s.ExecutionPrice = out.Decimal().Div(in.Decimal())

	if s.AmountInUSD.Valid && s.AmountOutUSD.Valid {
		s.PriceImpact = ComputePriceImpact(s.AmountInUSD.Decimal, s.AmountOutUSD.Decimal)
	} else {
		s.PriceImpact = InvalidPriceImpact()
	}

	if s.Fee, err = ComputeFee(raw.ExtraFee, in, out, intent.TokenIn, intent.TokenOut); err != nil {
		return nil, err
	}

	return s, nil
}

func mismatch(raw *client.RawRouteQuote, intent Intent) string {
	switch {
	case raw.Sequence != intent.Sequence:
		return fmt.Sprintf("quote %d superseded by %d", raw.Sequence, intent.Sequence)
	case raw.ChainID != intent.ChainID:
		return fmt.Sprintf("chain %s does not match %s", raw.ChainID, intent.ChainID)
	case raw.Kind != "" && raw.Kind != intent.Kind:
		return fmt.Sprintf("swap kind %s does not match %s", raw.Kind, intent.Kind)
	case !intent.TokenIn.MatchesAddress(raw.TokenIn):
		return fmt.Sprintf("tokenIn %s does not match %s", raw.TokenIn, intent.TokenIn.Address())
	case !intent.TokenOut.MatchesAddress(raw.TokenOut):
		return fmt.Sprintf("tokenOut %s does not match %s", raw.TokenOut, intent.TokenOut.Address())
	}
	return ""
}

func nullDecimal(field, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, &types.MalformedQuoteError{Field: field, Reason: err.Error()}
	}
	return decimal.NewNullDecimal(d), nil
}
