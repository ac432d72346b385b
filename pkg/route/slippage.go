package route

import (
	"errors"
	"fmt"

	"routeswap/pkg/amount"
	"routeswap/pkg/types"
)

// ErrInvalidSlippage is returned for a tolerance above 100%
var ErrInvalidSlippage = errors.New("slippage tolerance must be between 0 and 10000 bps")

// BoundKind tells which side of the swap a bound protects
type BoundKind string

const (
	MinOut BoundKind = "min_out"
	MaxIn  BoundKind = "max_in"
)

// Bound is the worst acceptable amount for one quote at one tolerance
type Bound struct {
	Kind        BoundKind
	Amount      amount.Amount
	SlippageBps uint16
	Sequence    uint64
}

// ComputeBound derives minOut for exact-in or maxIn for exact-out
func ComputeBound(summary *Summary, slippageBps uint16) (Bound, error) {
	if summary == nil {
		return Bound{}, fmt.Errorf("no route summary")
	}
	if slippageBps > amount.BpsBase {
		return Bound{}, fmt.Errorf("%w: %d", ErrInvalidSlippage, slippageBps)
	}

	b := Bound{SlippageBps: slippageBps, Sequence: summary.Sequence}

	if summary.Kind == types.ExactOut {
		extra, err := summary.AmountIn.MulBps(uint32(slippageBps))
		if err != nil {
			return Bound{}, err
		}
		if b.Amount, err = summary.AmountIn.Add(extra); err != nil {
			return Bound{}, err
		}
		b.Kind = MaxIn
		return b, nil
	}

	cut, err := summary.AmountOut.MulBps(uint32(slippageBps))
	if err != nil {
		return Bound{}, err
	}
	if b.Amount, err = summary.AmountOut.Sub(cut); err != nil {
		return Bound{}, err
	}
	b.Kind = MinOut
	return b, nil
}

// CheckFor rejects a bound derived from a different quote
func (b Bound) CheckFor(summary *Summary) error {
	if summary == nil || b.Sequence != summary.Sequence {
		return &types.StaleQuoteError{Reason: "slippage bound belongs to a superseded quote"}
	}
	return nil
}

// Allows reports whether amounts produced at build time still respect the bound
func (b Bound) Allows(in, out amount.Amount) (bool, error) {
	switch b.Kind {
	case MinOut:
		c, err := out.Cmp(b.Amount)
		return c >= 0, err
	case MaxIn:
		c, err := in.Cmp(b.Amount)
		return c <= 0, err
	default:
		return false, fmt.Errorf("unknown bound kind %q", b.Kind)
	}
}
