package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"routeswap/pkg/builder"
	"routeswap/pkg/types"
)

// BlockhashSource provides a recent blockhash for new transactions
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// SolanaSigner signs Solana intents with a local keypair
type SolanaSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	source     BlockhashSource
	commitment rpc.CommitmentType
}

// NewSolanaSigner parses a base58 private key
func NewSolanaSigner(base58Key string, source BlockhashSource, commitment rpc.CommitmentType) (*SolanaSigner, error) {
	if base58Key == "" {
		return nil, fmt.Errorf("%w: private key not configured", types.ErrSignerUnavailable)
	}
	privateKey, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &SolanaSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		source:     source,
		commitment: commitment,
	}, nil
}

func (s *SolanaSigner) Address() string { return s.publicKey.String() }

// Sign compiles the instructions against a fresh blockhash
func (s *SolanaSigner) Sign(ctx context.Context, intent builder.Intent) (SignedTx, error) {
	sol, ok := intent.(*builder.SolanaIntent)
	if !ok {
		return SignedTx{}, fmt.Errorf("solana signer cannot sign %s intent", intent.Family())
	}
	if !sol.FeePayer.Equals(s.publicKey) {
		return SignedTx{}, fmt.Errorf("%w: intent fee payer %s is not %s", types.ErrSignerUnavailable, sol.FeePayer, s.publicKey)
	}

	recent, err := s.source.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return SignedTx{}, &types.NetworkError{Op: "latest blockhash", Err: err}
	}

	tx, err := solana.NewTransaction(
		sol.Instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(sol.FeePayer),
	)
	if err != nil {
		return SignedTx{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return SignedTx{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return SignedTx{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return SignedTx{Raw: raw, Hash: tx.Signatures[0].String()}, nil
}
