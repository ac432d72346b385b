package builder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/amount"
	"routeswap/pkg/client"
	"routeswap/pkg/metrics"
	"routeswap/pkg/route"
	"routeswap/pkg/types"
)

// RouteEncoder is the build-route API
type RouteEncoder interface {
	BuildRoute(ctx context.Context, chainID string, params client.BuildParams) (*client.BuiltRoute, error)
}

// EVMBuilder obtains router calldata from the routing service and checks it
// against the validated quote before wrapping it as an EvmIntent
type EVMBuilder struct {
	encoder       RouteEncoder
	trustedRouter string
	source        string
	logger        zerolog.Logger
}

// NewEVMBuilder creates an EVM builder. When trustedRouter is set every built
// call must target it.
func NewEVMBuilder(encoder RouteEncoder, trustedRouter, source string) *EVMBuilder {
	return &EVMBuilder{
		encoder:       encoder,
		trustedRouter: trustedRouter,
		source:        source,
		logger:        log.With().Str("component", "evm-builder").Logger(),
	}
}

func (b *EVMBuilder) Family() types.ChainFamily { return types.FamilyEVM }

// Build encodes the swap. The summary is checked for staleness before and
// after the remote call.
func (b *EVMBuilder) Build(ctx context.Context, req Request) (Intent, error) {
	intent, err := b.build(ctx, req)
	if err != nil {
		metrics.BuildRequests.WithLabelValues(string(types.FamilyEVM), "error").Inc()
		return nil, err
	}
	metrics.BuildRequests.WithLabelValues(string(types.FamilyEVM), "ok").Inc()
	return intent, nil
}

func (b *EVMBuilder) build(ctx context.Context, req Request) (*EvmIntent, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	summary := req.Summary
	recipient := recipientOf(req)

	if !common.IsHexAddress(req.Sender) {
		return nil, fmt.Errorf("invalid sender address: %s", req.Sender)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address: %s", recipient)
	}
	if len(summary.RawSummary) == 0 {
		return nil, fmt.Errorf("quote has no route summary to build from")
	}

	var deadline int64
	if !req.Deadline.IsZero() {
		deadline = req.Deadline.Unix()
	}

	built, err := b.encoder.BuildRoute(ctx, summary.ChainID, client.BuildParams{
		RouteSummary:      summary.RawSummary,
		Sender:            req.Sender,
		Recipient:         recipient,
		SlippageTolerance: req.Bound.SlippageBps,
		Deadline:          deadline,
		Source:            b.source,
	})
	if err != nil {
		return nil, err
	}

	// the user may have changed the form while we were waiting
	if err := checkCurrent(req); err != nil {
		return nil, err
	}

	if err := b.checkRouter(built.RouterAddress, summary.RouterAddress); err != nil {
		return nil, err
	}

	data, err := hexutil.Decode(built.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid calldata from build-route: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty calldata from build-route")
	}

	value, err := uint256.FromDecimal(built.TransactionValue)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction value %q: %w", built.TransactionValue, err)
	}
	if err := b.checkValue(value, req); err != nil {
		return nil, err
	}

	if err := checkBuiltAmounts(built, req); err != nil {
		return nil, err
	}

	var gas uint64
	if built.Gas != "" {
		if gas, err = strconv.ParseUint(built.Gas, 10, 64); err != nil {
			b.logger.Warn().Err(err).Str("gas", built.Gas).Msg("ignoring unparsable gas estimate from build response")
			gas = 0
		}
	}

	intent := &EvmIntent{
		Meta:  newMeta(summary),
		To:    common.HexToAddress(built.RouterAddress),
		Data:  data,
		Value: value.ToBig(),
		Gas:   gas,
	}

	b.logger.Info().
		Str("intent", intent.IntentID).
		Uint64("sequence", intent.Sequence).
		Str("router", intent.To.Hex()).
		Str("value", value.Dec()).
		Int("calldata_bytes", len(data)).
		Msg("evm transaction built")

	return intent, nil
}

func (b *EVMBuilder) checkRouter(built, quoted string) error {
	if !common.IsHexAddress(built) {
		return fmt.Errorf("invalid router address from build-route: %s", built)
	}
	if !strings.EqualFold(built, quoted) {
		return fmt.Errorf("router address %s does not match quoted router %s", built, quoted)
	}
	if b.trustedRouter != "" && !strings.EqualFold(built, b.trustedRouter) {
		return fmt.Errorf("router address %s is not the configured router %s", built, b.trustedRouter)
	}
	return nil
}

// checkValue allows native value only when the input is the native asset and
// never more than the worst-case input
func (b *EVMBuilder) checkValue(value *uint256.Int, req Request) error {
	if !req.Summary.TokenIn.IsNative() {
		if !value.IsZero() {
			return fmt.Errorf("unexpected native value %s for token input", value.Dec())
		}
		return nil
	}

	limit := req.Summary.AmountIn
	if req.Bound.Kind == route.MaxIn {
		limit = req.Bound.Amount
	}
	ceiling, overflow := uint256.FromBig(limit.BigInt())
	if overflow {
		return fmt.Errorf("input amount overflows uint256")
	}
	if value.Gt(ceiling) {
		return fmt.Errorf("transaction value %s exceeds input amount %s", value.Dec(), ceiling.Dec())
	}
	return nil
}

// checkBuiltAmounts rejects a build whose re-simulated amounts moved outside the bound
func checkBuiltAmounts(built *client.BuiltRoute, req Request) error {
	if built.AmountIn == "" || built.AmountOut == "" {
		return nil
	}
	in, err := amount.Parse(built.AmountIn, req.Summary.TokenIn.Decimals())
	if err != nil {
		return fmt.Errorf("invalid amountIn from build-route: %w", err)
	}
	out, err := amount.Parse(built.AmountOut, req.Summary.TokenOut.Decimals())
	if err != nil {
		return fmt.Errorf("invalid amountOut from build-route: %w", err)
	}
	ok, err := req.Bound.Allows(in, out)
	if err != nil {
		return err
	}
	if !ok {
		return &types.StaleQuoteError{Reason: fmt.Sprintf("built route (in %s, out %s) violates %s bound %s", in, out, req.Bound.Kind, req.Bound.Amount)}
	}
	return nil
}
