package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/config"
	"routeswap/pkg/types"
)

// ERC20 balanceOf and allowance
const erc20ABIJSON = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
	return parsed
}

// EVMBackend is the subset of ethclient.Client the adapter uses
type EVMBackend interface {
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EVM is an adapter for EVM-compatible chains
type EVM struct {
	id      string
	backend EVMBackend
	client  *ethclient.Client
	logger  zerolog.Logger
}

// NewEVM wraps an existing backend
func NewEVM(id string, backend EVMBackend) *EVM {
	return &EVM{
		id:      id,
		backend: backend,
		logger:  log.With().Str("component", "evm-chain").Str("chain", id).Logger(),
	}
}

// DialEVM connects to the first reachable RPC endpoint whose chain ID matches
// the configured one
func DialEVM(ctx context.Context, cfg config.ChainConfig) (*EVM, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("RPC URL not configured for chain %s", cfg.ID)
	}

	var lastErr error
	for _, endpoint := range cfg.RPCEndpoints {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = fmt.Errorf("failed to connect to RPC endpoint: %w", err)
			continue
		}
		if cfg.ChainID != 0 {
			got, err := client.ChainID(ctx)
			if err != nil {
				client.Close()
				lastErr = &types.NetworkError{Op: "chain id", Err: err}
				continue
			}
			if got.Int64() != cfg.ChainID {
				client.Close()
				lastErr = fmt.Errorf("endpoint %s serves chain id %s, expected %d", endpoint, got, cfg.ChainID)
				continue
			}
		}
		e := NewEVM(cfg.ID, client)
		e.client = client
		return e, nil
	}
	return nil, lastErr
}

func (e *EVM) ID() string                { return e.id }
func (e *EVM) Family() types.ChainFamily { return types.FamilyEVM }

// Client returns the dialed client, nil when built with NewEVM
func (e *EVM) Client() *ethclient.Client { return e.client }

// Submit broadcasts a signed, RLP or typed-envelope encoded transaction
func (e *EVM) Submit(ctx context.Context, raw []byte) (string, error) {
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("invalid signed transaction: %w", err)
	}

	hash := tx.Hash().Hex()
	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		// a retried broadcast of the same transaction
		if strings.Contains(err.Error(), "already known") {
			return hash, nil
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	e.logger.Info().Str("hash", hash).Uint64("nonce", tx.Nonce()).Msg("transaction submitted")
	return hash, nil
}

// Status looks up the receipt. A missing receipt means pending; a failed one
// is replayed to recover the revert reason.
func (e *EVM) Status(ctx context.Context, hash string) (Receipt, error) {
	h := common.HexToHash(hash)
	receipt, err := e.backend.TransactionReceipt(ctx, h)
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{Hash: hash, State: StatePending}, nil
	}
	if err != nil {
		return Receipt{}, &types.NetworkError{Op: "transaction receipt", Err: err}
	}

	out := Receipt{Hash: hash, State: StateConfirmed}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return out, nil
	}

	out.State = StateFailed
	out.Detail = e.revertReason(ctx, h, receipt)
	return out, nil
}

func (e *EVM) revertReason(ctx context.Context, hash common.Hash, receipt *ethtypes.Receipt) string {
	tx, _, err := e.backend.TransactionByHash(ctx, hash)
	if err != nil {
		e.logger.Warn().Err(err).Str("hash", hash.Hex()).Msg("could not load reverted transaction")
		return "execution reverted"
	}
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "execution reverted"
	}

	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	_, err = e.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, block)
	if err == nil {
		return "execution reverted"
	}
	return decodeRevert(err)
}

// decodeRevert prefers the ABI-decoded Error(string) payload over the RPC message
func decodeRevert(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

// Preflight checks the owner's balance and, for tokens with a spender, the allowance
func (e *EVM) Preflight(ctx context.Context, spend Spend) error {
	if !common.IsHexAddress(spend.Owner) {
		return fmt.Errorf("invalid owner address: %s", spend.Owner)
	}
	owner := common.HexToAddress(spend.Owner)
	need := spend.Amount.BigInt()

	if spend.Token.IsNative() {
		balance, err := e.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return &types.NetworkError{Op: "balance", Err: err}
		}
		if balance.Cmp(need) < 0 {
			return insufficientBalance(spend.Token, balance.String(), need.String())
		}
		return nil
	}

	if !common.IsHexAddress(spend.Token.Address()) {
		return fmt.Errorf("invalid token contract address: %s", spend.Token.Address())
	}
	token := common.HexToAddress(spend.Token.Address())

	balance, err := e.callUint(ctx, token, "balanceOf", owner)
	if err != nil {
		return err
	}
	if balance.Cmp(need) < 0 {
		return insufficientBalance(spend.Token, balance.String(), need.String())
	}

	if spend.Spender == "" {
		return nil
	}
	allowance, err := e.callUint(ctx, token, "allowance", owner, common.HexToAddress(spend.Spender))
	if err != nil {
		return err
	}
	if allowance.Cmp(need) < 0 {
		return fmt.Errorf("%w: %s allows %s to spend %s, need %s", types.ErrInsufficientAllowance, spend.Owner, spend.Spender, allowance, need)
	}
	return nil
}

func (e *EVM) callUint(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}
	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, &types.NetworkError{Op: method, Err: err}
	}
	values, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return v, nil
}

// Close closes the client connection
func (e *EVM) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
