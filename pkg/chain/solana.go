package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/config"
	"routeswap/pkg/types"
)

// SolanaRPC is the subset of rpc.Client the adapter uses
type SolanaRPC interface {
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// Solana is an adapter for Solana clusters
type Solana struct {
	id            string
	rpc           SolanaRPC
	client        *rpc.Client
	commitment    rpc.CommitmentType
	skipPreflight bool
	logger        zerolog.Logger
}

// NewSolana wraps an existing RPC client
func NewSolana(id string, client SolanaRPC, commitment rpc.CommitmentType, skipPreflight bool) *Solana {
	return &Solana{
		id:            id,
		rpc:           client,
		commitment:    commitment,
		skipPreflight: skipPreflight,
		logger:        log.With().Str("component", "solana-chain").Str("chain", id).Logger(),
	}
}

// DialSolana creates an adapter on the first configured endpoint
func DialSolana(cfg config.ChainConfig) (*Solana, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("RPC URL not configured for chain %s", cfg.ID)
	}
	client := rpc.New(cfg.RPCEndpoints[0])
	s := NewSolana(cfg.ID, client, ParseCommitment(cfg.Commitment), cfg.SkipPreflight)
	s.client = client
	return s, nil
}

// ParseCommitment maps a config value to a commitment level, defaulting to confirmed
func ParseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "confirmed":
		return rpc.CommitmentConfirmed
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

func (s *Solana) ID() string                { return s.id }
func (s *Solana) Family() types.ChainFamily { return types.FamilySolana }

// Client returns the dialed client, nil when built with NewSolana
func (s *Solana) Client() *rpc.Client { return s.client }

// Commitment is the level at which transactions count as confirmed
func (s *Solana) Commitment() rpc.CommitmentType { return s.commitment }

// Submit sends a signed wire-format transaction
func (s *Solana) Submit(ctx context.Context, raw []byte) (string, error) {
	sig, err := s.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       s.skipPreflight,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		if logs := simulationLogs(err); len(logs) > 0 {
			return "", fmt.Errorf("failed to send transaction: %w\n%s", err, strings.Join(logs, "\n"))
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Info().Str("signature", sig.String()).Msg("transaction submitted")
	return sig.String(), nil
}

// simulationLogs extracts program logs from a failed preflight simulation
func simulationLogs(err error) []string {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, l := range raw {
		if str, ok := l.(string); ok {
			logs = append(logs, str)
		}
	}
	return logs
}

// Status reports a signature as confirmed once it reaches the adapter's
// commitment. Failed transactions carry their program logs.
func (s *Solana) Status(ctx context.Context, hash string) (Receipt, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return Receipt{}, fmt.Errorf("invalid transaction signature: %w", err)
	}

	result, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return Receipt{}, &types.NetworkError{Op: "signature status", Err: err}
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return Receipt{Hash: hash, State: StatePending}, nil
	}

	status := result.Value[0]
	out := Receipt{Hash: hash, State: StatePending, Block: status.Slot}

	if status.Err != nil {
		out.State = StateFailed
		out.Detail = s.failureDetail(ctx, sig, status.Err)
		return out, nil
	}
	if reached(status.ConfirmationStatus, s.commitment) {
		out.State = StateConfirmed
	}
	return out, nil
}

func (s *Solana) failureDetail(ctx context.Context, sig solana.Signature, txErr interface{}) string {
	detail := fmt.Sprintf("%v", txErr)
	maxVersion := uint64(0)
	tx, err := s.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil || tx == nil || tx.Meta == nil {
		return detail
	}
	if len(tx.Meta.LogMessages) == 0 {
		return detail
	}
	return detail + "\n" + strings.Join(tx.Meta.LogMessages, "\n")
}

func reached(got rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(level string) int {
		switch level {
		case "processed":
			return 1
		case "confirmed":
			return 2
		case "finalized":
			return 3
		default:
			return 0
		}
	}
	return rank(string(got)) > 0 && rank(string(got)) >= rank(string(want))
}

// AccountExists checks if an account exists on-chain
func (s *Solana) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := s.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &types.NetworkError{Op: "account info", Err: err}
	}
	return info != nil && info.Value != nil, nil
}

// Preflight checks the owner's SOL or SPL token balance
func (s *Solana) Preflight(ctx context.Context, spend Spend) error {
	owner, err := solana.PublicKeyFromBase58(spend.Owner)
	if err != nil {
		return fmt.Errorf("invalid owner address: %w", err)
	}
	if !spend.Amount.IsUint64() {
		return fmt.Errorf("amount %s does not fit u64", spend.Amount)
	}
	need := spend.Amount.Uint64()

	if spend.Token.IsNative() {
		balance, err := s.rpc.GetBalance(ctx, owner, s.commitment)
		if err != nil {
			return &types.NetworkError{Op: "balance", Err: err}
		}
		if balance.Value < need {
			return insufficientBalance(spend.Token, strconv.FormatUint(balance.Value, 10), spend.Amount.String())
		}
		return nil
	}

	mint, err := solana.PublicKeyFromBase58(spend.Token.Address())
	if err != nil {
		return fmt.Errorf("invalid token mint address: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return fmt.Errorf("failed to derive associated token address: %w", err)
	}
	exists, err := s.AccountExists(ctx, ata)
	if err != nil {
		return err
	}
	if !exists {
		return insufficientBalance(spend.Token, "0", spend.Amount.String())
	}

	balance, err := s.rpc.GetTokenAccountBalance(ctx, ata, s.commitment)
	if err != nil {
		return &types.NetworkError{Op: "token balance", Err: err}
	}
	have, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse token balance: %w", err)
	}
	if have < need {
		return insufficientBalance(spend.Token, balance.Value.Amount, spend.Amount.String())
	}
	return nil
}
