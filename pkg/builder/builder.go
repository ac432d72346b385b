// Package builder turns a validated route and its slippage bound into an
// unsigned, chain-specific transaction intent. There is one Builder per chain
// family, selected once through a Registry.
package builder

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"routeswap/pkg/route"
	"routeswap/pkg/types"
)

// Intent is an unsigned transaction ready for a signer
type Intent interface {
	ID() string
	Family() types.ChainFamily
	Chain() string
	QuoteSequence() uint64
	Details() Details
}

// Details describes the swap an intent performs, in human units
type Details struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Kind      string `json:"kind"`
}

// Meta is the identity shared by every intent
type Meta struct {
	IntentID  string
	ChainID   string
	Sequence  uint64
	CreatedAt time.Time
	Swap      Details
}

func newMeta(summary *route.Summary) Meta {
	return Meta{
		IntentID:  uuid.New().String(),
		ChainID:   summary.ChainID,
		Sequence:  summary.Sequence,
		CreatedAt: time.Now(),
		Swap: Details{
			TokenIn:   summary.TokenIn.Symbol(),
			TokenOut:  summary.TokenOut.Symbol(),
			AmountIn:  summary.AmountIn.Decimal().String(),
			AmountOut: summary.AmountOut.Decimal().String(),
			Kind:      string(summary.Kind),
		},
	}
}

func (m Meta) ID() string            { return m.IntentID }
func (m Meta) Chain() string         { return m.ChainID }
func (m Meta) QuoteSequence() uint64 { return m.Sequence }
func (m Meta) Details() Details      { return m.Swap }

// EvmIntent is a router contract call
type EvmIntent struct {
	Meta
	To    common.Address
	Data  []byte
	Value *big.Int
	// Gas is the routing service's estimate, zero when unknown. The signer
	// uses it when its own estimate fails without a revert.
	Gas uint64
}

func (i *EvmIntent) Family() types.ChainFamily { return types.FamilyEVM }

// SolanaIntent is an ordered instruction list paid for by FeePayer
type SolanaIntent struct {
	Meta
	Instructions []solana.Instruction
	FeePayer     solana.PublicKey
}

func (i *SolanaIntent) Family() types.ChainFamily { return types.FamilySolana }

// Freshness answers whether a quote sequence is still the one on display
type Freshness interface {
	IsCurrent(sequence uint64) bool
}

// FreshnessFunc adapts a function to Freshness
type FreshnessFunc func(sequence uint64) bool

func (f FreshnessFunc) IsCurrent(sequence uint64) bool { return f(sequence) }

// Request carries everything needed to build one swap attempt
type Request struct {
	Summary   *route.Summary
	Bound     route.Bound
	Sender    string
	Recipient string
	Deadline  time.Time
	Freshness Freshness
}

// Builder produces intents for one chain family
type Builder interface {
	Family() types.ChainFamily
	Build(ctx context.Context, req Request) (Intent, error)
}

// checkCurrent rejects a request whose summary was superseded or whose bound
// came from a different summary
func checkCurrent(req Request) error {
	if req.Summary == nil {
		return fmt.Errorf("no route summary")
	}
	if err := req.Bound.CheckFor(req.Summary); err != nil {
		return err
	}
	if req.Freshness != nil && !req.Freshness.IsCurrent(req.Summary.Sequence) {
		return &types.StaleQuoteError{Reason: fmt.Sprintf("quote %d is no longer current", req.Summary.Sequence)}
	}
	return nil
}

func checkRequest(req Request) error {
	if err := checkCurrent(req); err != nil {
		return err
	}
	if req.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if !req.Deadline.IsZero() && !req.Deadline.After(time.Now()) {
		return fmt.Errorf("deadline %s is in the past", req.Deadline.Format(time.RFC3339))
	}
	return nil
}

func recipientOf(req Request) string {
	if req.Recipient == "" {
		return req.Sender
	}
	return req.Recipient
}

// Registry maps chain families to builders
type Registry struct {
	mu       sync.RWMutex
	builders map[types.ChainFamily]Builder
}

// NewRegistry creates a registry with the given builders
func NewRegistry(builders ...Builder) *Registry {
	r := &Registry{builders: make(map[types.ChainFamily]Builder)}
	for _, b := range builders {
		r.Register(b)
	}
	return r
}

// Register adds or replaces the builder for its family
func (r *Registry) Register(b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[b.Family()] = b
}

// For returns the builder for a family
func (r *Registry) For(family types.ChainFamily) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[family]
	if !ok {
		return nil, fmt.Errorf("no transaction builder for chain family %q", family)
	}
	return b, nil
}
