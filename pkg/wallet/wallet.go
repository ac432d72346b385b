// Package wallet signs transaction intents.
package wallet

import (
	"context"
	"fmt"

	"routeswap/pkg/builder"
	"routeswap/pkg/types"
)

// SignedTx is a transaction ready for broadcast
type SignedTx struct {
	Raw  []byte
	Hash string
}

// Signer signs intents for one account. Implementations return
// types.ErrUserRejected when the user declines and types.ErrSignerUnavailable
// when no key or wallet is reachable.
type Signer interface {
	Address() string
	Sign(ctx context.Context, intent builder.Intent) (SignedTx, error)
}

// PromptFunc asks the user to approve an intent
type PromptFunc func(ctx context.Context, intent builder.Intent) (bool, error)

// Confirming asks for approval before delegating to another signer
type Confirming struct {
	signer Signer
	prompt PromptFunc
}

// NewConfirming wraps signer with an approval prompt
func NewConfirming(signer Signer, prompt PromptFunc) *Confirming {
	return &Confirming{signer: signer, prompt: prompt}
}

func (c *Confirming) Address() string { return c.signer.Address() }

func (c *Confirming) Sign(ctx context.Context, intent builder.Intent) (SignedTx, error) {
	ok, err := c.prompt(ctx, intent)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %v", types.ErrSignerUnavailable, err)
	}
	if !ok {
		return SignedTx{}, types.ErrUserRejected
	}
	return c.signer.Sign(ctx, intent)
}

// Unavailable is the signer used when no key is configured for a chain
type Unavailable struct {
	Chain string
}

func (u Unavailable) Address() string { return "" }

func (u Unavailable) Sign(ctx context.Context, intent builder.Intent) (SignedTx, error) {
	return SignedTx{}, fmt.Errorf("%w: no signing key configured for %s", types.ErrSignerUnavailable, u.Chain)
}
