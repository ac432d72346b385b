// Package chain talks to chain RPC endpoints: it submits signed transactions,
// reports their status and checks that an owner can fund a swap.
package chain

import (
	"context"
	"fmt"

	"routeswap/config"
	"routeswap/pkg/amount"
	"routeswap/pkg/types"
)

// State is where a submitted transaction is in its lifecycle
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Receipt is the chain's view of one transaction
type Receipt struct {
	Hash  string
	State State
	Block uint64
	// Detail is the revert reason or program logs of a failed transaction
	Detail string
}

// Spend is an amount an owner is about to pay into a swap
type Spend struct {
	Owner  string
	Token  types.Currency
	Amount amount.Amount
	// Spender is checked for an ERC20 allowance when set
	Spender string
}

// Chain is one connected chain
type Chain interface {
	ID() string
	Family() types.ChainFamily
	Submit(ctx context.Context, raw []byte) (string, error)
	Status(ctx context.Context, hash string) (Receipt, error)
	Preflight(ctx context.Context, spend Spend) error
}

// Dial connects to the chain described by cfg
func Dial(ctx context.Context, cfg config.ChainConfig) (Chain, error) {
	switch cfg.Family {
	case types.FamilyEVM:
		evm, err := DialEVM(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return evm, nil
	case types.FamilySolana:
		sol, err := DialSolana(cfg)
		if err != nil {
			return nil, err
		}
		return sol, nil
	default:
		return nil, fmt.Errorf("unsupported chain family: %s", cfg.Family)
	}
}

func insufficientBalance(token types.Currency, have, need string) error {
	return fmt.Errorf("%w: have %s, need %s %s", types.ErrInsufficientBalance, have, need, token.Symbol())
}
