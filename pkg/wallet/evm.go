package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/builder"
	"routeswap/pkg/types"
)

// EVMBackend supplies nonce, gas price and gas estimates
type EVMBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// EVMOptions are per-chain overrides from config
type EVMOptions struct {
	GasPrice *int64
	GasLimit *uint64
}

// EVMSigner signs EVM intents with a local private key
type EVMSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	backend    EVMBackend
	opts       EVMOptions
}

// NewEVMSigner parses a hex private key, with or without 0x
func NewEVMSigner(hexKey string, chainID int64, backend EVMBackend, opts EVMOptions) (*EVMSigner, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: private key not configured", types.ErrSignerUnavailable)
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &EVMSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
		backend:    backend,
		opts:       opts,
	}, nil
}

func (s *EVMSigner) Address() string { return s.address.Hex() }

// Sign fills nonce, gas price and gas limit and signs with EIP-155
func (s *EVMSigner) Sign(ctx context.Context, intent builder.Intent) (SignedTx, error) {
	evm, ok := intent.(*builder.EvmIntent)
	if !ok {
		return SignedTx{}, fmt.Errorf("evm signer cannot sign %s intent", intent.Family())
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return SignedTx{}, &types.NetworkError{Op: "nonce", Err: err}
	}

	gasPrice, err := s.gasPrice(ctx)
	if err != nil {
		return SignedTx{}, err
	}

	gasLimit, err := s.gasLimit(ctx, evm)
	if err != nil {
		return SignedTx{}, err
	}

	value := evm.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := evm.To
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     evm.Data,
	})

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(s.chainID), s.privateKey)
	if err != nil {
		return SignedTx{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return SignedTx{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return SignedTx{Raw: raw, Hash: signedTx.Hash().Hex()}, nil
}

func (s *EVMSigner) gasPrice(ctx context.Context) (*big.Int, error) {
	if s.opts.GasPrice != nil {
		return big.NewInt(*s.opts.GasPrice), nil
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &types.NetworkError{Op: "gas price", Err: err}
	}
	return gasPrice, nil
}

// gasLimit estimates with a 20% buffer. A reverting estimate is returned
// as is. Any other estimate failure falls back to the routing service's gas
// figure when the intent carries one.
func (s *EVMSigner) gasLimit(ctx context.Context, intent *builder.EvmIntent) (uint64, error) {
	if s.opts.GasLimit != nil {
		return *s.opts.GasLimit, nil
	}
	to := intent.To
	estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: intent.Value,
		Data:  intent.Data,
	})
	if err != nil {
		if isRevert(err) || intent.Gas == 0 {
			return 0, fmt.Errorf("failed to estimate gas: %w", err)
		}
		log.Warn().Err(err).Str("intent", intent.IntentID).Uint64("gas", intent.Gas).Msg("gas estimate failed, using routing service estimate")
		estimated = intent.Gas
	}
	return estimated * 120 / 100, nil
}

type dataError interface {
	ErrorData() interface{}
}

func isRevert(err error) bool {
	var de dataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
