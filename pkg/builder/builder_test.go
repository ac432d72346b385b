package builder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeswap/pkg/amount"
	"routeswap/pkg/client"
	"routeswap/pkg/route"
	"routeswap/pkg/types"
)

const (
	router = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
	sender = "0x1111111111111111111111111111111111111111"
)

var (
	usdc = types.NewToken("ethereum", types.FamilyEVM, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6, "USDC")
	weth = types.NewToken("ethereum", types.FamilyEVM, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 18, "WETH")
	eth  = types.NewNative("ethereum", types.FamilyEVM, 18, "ETH")
)

type fakeEncoder struct {
	built  *client.BuiltRoute
	err    error
	calls  int
	during func()
	params client.BuildParams
}

func (f *fakeEncoder) BuildRoute(ctx context.Context, chainID string, params client.BuildParams) (*client.BuiltRoute, error) {
	f.calls++
	f.params = params
	if f.during != nil {
		f.during()
	}
	return f.built, f.err
}

func evmSummary(seq uint64) *route.Summary {
	return &route.Summary{
		ChainID:       "ethereum",
		Kind:          types.ExactIn,
		TokenIn:       usdc,
		TokenOut:      weth,
		AmountIn:      amount.FromUint64(1_000_000, 6),
		AmountOut:     amount.FromUint64(500_000, 18),
		RouterAddress: router,
		RawSummary:    json.RawMessage(`{"tokenIn":"usdc"}`),
		Sequence:      seq,
		FetchedAt:     time.Now(),
	}
}

func evmRequest(t *testing.T, s *route.Summary, current *uint64) Request {
	t.Helper()
	b, err := route.ComputeBound(s, 50)
	require.NoError(t, err)
	return Request{
		Summary:   s,
		Bound:     b,
		Sender:    sender,
		Deadline:  time.Now().Add(20 * time.Minute),
		Freshness: FreshnessFunc(func(seq uint64) bool { return seq == *current }),
	}
}

func goodBuild() *client.BuiltRoute {
	return &client.BuiltRoute{
		RouterAddress:    router,
		Data:             "0xe21fd0e9000000",
		TransactionValue: "0",
		AmountIn:         "1000000",
		AmountOut:        "499000",
		Gas:              "180000",
	}
}

func TestEVMBuilder_Build(t *testing.T) {
	current := uint64(3)
	enc := &fakeEncoder{built: goodBuild()}
	b := NewEVMBuilder(enc, router, "routeswap")

	intent, err := b.Build(context.Background(), evmRequest(t, evmSummary(3), &current))
	require.NoError(t, err)

	evm, ok := intent.(*EvmIntent)
	require.True(t, ok)
	assert.Equal(t, types.FamilyEVM, evm.Family())
	assert.Equal(t, uint64(3), evm.QuoteSequence())
	assert.Equal(t, "ethereum", evm.Chain())
	assert.NotEmpty(t, evm.ID())
	assert.Equal(t, router, evm.To.Hex())
	assert.Equal(t, []byte{0xe2, 0x1f, 0xd0, 0xe9, 0, 0, 0}, evm.Data)
	assert.Equal(t, 0, evm.Value.Sign())
	assert.Equal(t, uint64(180000), evm.Gas)

	assert.Equal(t, uint16(50), enc.params.SlippageTolerance)
	assert.Equal(t, sender, enc.params.Recipient, "recipient defaults to sender")
	assert.JSONEq(t, `{"tokenIn":"usdc"}`, string(enc.params.RouteSummary))
}

func TestEVMBuilder_UnparsableGasIsUnknown(t *testing.T) {
	current := uint64(3)
	built := goodBuild()
	built.Gas = "lots"
	b := NewEVMBuilder(&fakeEncoder{built: built}, router, "routeswap")

	intent, err := b.Build(context.Background(), evmRequest(t, evmSummary(3), &current))
	require.NoError(t, err)
	assert.Zero(t, intent.(*EvmIntent).Gas)
}

func TestEVMBuilder_RejectsSupersededBeforeBuilding(t *testing.T) {
	current := uint64(4)
	enc := &fakeEncoder{built: goodBuild()}
	_, err := NewEVMBuilder(enc, "", "").Build(context.Background(), evmRequest(t, evmSummary(3), &current))
	assert.True(t, types.IsStale(err))
	assert.Equal(t, 0, enc.calls)
}

func TestEVMBuilder_RejectsSupersededDuringBuild(t *testing.T) {
	current := uint64(3)
	enc := &fakeEncoder{built: goodBuild(), during: func() { current = 4 }}
	_, err := NewEVMBuilder(enc, "", "").Build(context.Background(), evmRequest(t, evmSummary(3), &current))
	assert.True(t, types.IsStale(err))
	assert.Equal(t, 1, enc.calls)
}

func TestEVMBuilder_RejectsBoundFromOtherSummary(t *testing.T) {
	current := uint64(5)
	req := evmRequest(t, evmSummary(4), &current)
	req.Summary = evmSummary(5)
	_, err := NewEVMBuilder(&fakeEncoder{built: goodBuild()}, "", "").Build(context.Background(), req)
	assert.True(t, types.IsStale(err))
}

func TestEVMBuilder_ChecksBuildResponse(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*client.BuiltRoute)
		trusted string
		stale   bool
	}{
		{name: "router differs from quote", mutate: func(b *client.BuiltRoute) { b.RouterAddress = sender }},
		{name: "router not trusted", mutate: func(b *client.BuiltRoute) {}, trusted: sender},
		{name: "empty calldata", mutate: func(b *client.BuiltRoute) { b.Data = "0x" }},
		{name: "non hex calldata", mutate: func(b *client.BuiltRoute) { b.Data = "zz" }},
		{name: "value for token input", mutate: func(b *client.BuiltRoute) { b.TransactionValue = "1" }},
		{name: "value overflows uint256", mutate: func(b *client.BuiltRoute) {
			b.TransactionValue = "115792089237316195423570985008687907853269984665640564039457584007913129639936"
		}},
		{name: "output below minimum", mutate: func(b *client.BuiltRoute) { b.AmountOut = "497499" }, stale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := uint64(1)
			built := goodBuild()
			tt.mutate(built)
			_, err := NewEVMBuilder(&fakeEncoder{built: built}, tt.trusted, "").Build(context.Background(), evmRequest(t, evmSummary(1), &current))
			require.Error(t, err)
			assert.Equal(t, tt.stale, types.IsStale(err))
		})
	}
}

func TestEVMBuilder_NativeInputValue(t *testing.T) {
	current := uint64(1)
	s := evmSummary(1)
	s.TokenIn = eth
	s.AmountIn = amount.FromUint64(1_000_000, 18)

	built := goodBuild()
	built.TransactionValue = "1000000"
	intent, err := NewEVMBuilder(&fakeEncoder{built: built}, "", "").Build(context.Background(), evmRequest(t, s, &current))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), intent.(*EvmIntent).Value)

	built.TransactionValue = "1000001"
	_, err = NewEVMBuilder(&fakeEncoder{built: built}, "", "").Build(context.Background(), evmRequest(t, s, &current))
	assert.Error(t, err)
}

func TestEVMBuilder_PropagatesEncoderError(t *testing.T) {
	current := uint64(1)
	boom := errors.New("boom")
	_, err := NewEVMBuilder(&fakeEncoder{err: boom}, "", "").Build(context.Background(), evmRequest(t, evmSummary(1), &current))
	assert.ErrorIs(t, err, boom)
}

func TestEVMBuilder_RejectsPastDeadline(t *testing.T) {
	current := uint64(1)
	req := evmRequest(t, evmSummary(1), &current)
	req.Deadline = time.Now().Add(-time.Second)
	_, err := NewEVMBuilder(&fakeEncoder{built: goodBuild()}, "", "").Build(context.Background(), req)
	assert.Error(t, err)
}

type fakeAccounts map[solana.PublicKey]bool

func (f fakeAccounts) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	return f[account], nil
}

func solanaFixture(t *testing.T, in, out types.Currency) (*route.Summary, solana.PublicKey, solana.PublicKey) {
	t.Helper()
	user := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	program := solana.NewWallet().PublicKey()
	s := &route.Summary{
		ChainID:   "solana",
		Kind:      types.ExactIn,
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  amount.FromUint64(2_000_000, in.Decimals()),
		AmountOut: amount.FromUint64(1_000_000_000, out.Decimals()),
		Route:     [][]client.Hop{{{Pool: pool.String(), ProgramID: program.String()}}},
		Sequence:  9,
		FetchedAt: time.Now(),
	}
	return s, user, pool
}

var (
	solUSDC = types.NewToken("solana", types.FamilySolana, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6, "USDC")
	sol     = types.NewNative("solana", types.FamilySolana, 9, "SOL")
)

func programIDs(ixs []solana.Instruction) []solana.PublicKey {
	out := make([]solana.PublicKey, len(ixs))
	for i, ix := range ixs {
		out[i] = ix.ProgramID()
	}
	return out
}

func TestSolanaBuilder_NativeOutput(t *testing.T) {
	s, user, pool := solanaFixture(t, solUSDC, sol)
	routerProgram := solana.NewWallet().PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(user, solana.MustPublicKeyFromBase58(solUSDC.Address()))
	require.NoError(t, err)
	destATA, _, err := solana.FindAssociatedTokenAddress(user, solana.SolMint)
	require.NoError(t, err)

	b, err := NewSolanaBuilder(fakeAccounts{sourceATA: true}, routerProgram.String(), 1000)
	require.NoError(t, err)

	bound, err := route.ComputeBound(s, 100)
	require.NoError(t, err)
	intent, err := b.Build(context.Background(), Request{Summary: s, Bound: bound, Sender: user.String()})
	require.NoError(t, err)

	si := intent.(*SolanaIntent)
	assert.Equal(t, user, si.FeePayer)
	assert.Equal(t, uint64(9), si.QuoteSequence())
	assert.Equal(t, []solana.PublicKey{
		computebudget.ProgramID,
		solana.SPLAssociatedTokenAccountProgramID,
		routerProgram,
		token.ProgramID,
	}, programIDs(si.Instructions))

	swap := si.Instructions[2].(*SwapInstruction)
	accounts := swap.Accounts()
	require.Len(t, accounts, 8)
	assert.Equal(t, user, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, sourceATA, accounts[1].PublicKey)
	assert.Equal(t, destATA, accounts[2].PublicKey)
	assert.Equal(t, pool, accounts[6].PublicKey)

	data, err := swap.Data()
	require.NoError(t, err)
	require.Len(t, data, 8+8+8+1+1)
	assert.Equal(t, anchorDiscriminator("route"), data[:8])
	assert.Equal(t, uint64(2_000_000), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(990_000_000), binary.LittleEndian.Uint64(data[16:24]))
	assert.Equal(t, byte(0), data[24])
	assert.Equal(t, byte(1), data[25])
}

func TestSolanaBuilder_NativeInputWraps(t *testing.T) {
	s, user, _ := solanaFixture(t, sol, solUSDC)
	b, err := NewSolanaBuilder(fakeAccounts{}, solana.NewWallet().PublicKey().String(), 0)
	require.NoError(t, err)

	bound, err := route.ComputeBound(s, 50)
	require.NoError(t, err)
	intent, err := b.Build(context.Background(), Request{Summary: s, Bound: bound, Sender: user.String()})
	require.NoError(t, err)

	ids := programIDs(intent.(*SolanaIntent).Instructions)
	require.Len(t, ids, 6)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ids[0], "wSOL account")
	assert.Equal(t, system.ProgramID, ids[1], "wrap transfer")
	assert.Equal(t, token.ProgramID, ids[2], "sync native")
	assert.Equal(t, associatedtokenaccount.ProgramID, ids[3], "output account")
	assert.Equal(t, token.ProgramID, ids[5], "close wSOL")
}

func TestSolanaBuilder_RejectsOversizedAmounts(t *testing.T) {
	s, user, _ := solanaFixture(t, solUSDC, sol)
	huge, err := amount.Parse("18446744073709551616", 6)
	require.NoError(t, err)
	s.AmountIn = huge

	b, err := NewSolanaBuilder(fakeAccounts{}, solana.NewWallet().PublicKey().String(), 0)
	require.NoError(t, err)
	bound, err := route.ComputeBound(s, 50)
	require.NoError(t, err)
	_, err = b.Build(context.Background(), Request{Summary: s, Bound: bound, Sender: user.String()})
	assert.ErrorContains(t, err, "u64")
}

func TestSolanaBuilder_RejectsStale(t *testing.T) {
	s, user, _ := solanaFixture(t, solUSDC, sol)
	b, err := NewSolanaBuilder(fakeAccounts{}, solana.NewWallet().PublicKey().String(), 0)
	require.NoError(t, err)
	bound, err := route.ComputeBound(s, 50)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), Request{
		Summary:   s,
		Bound:     bound,
		Sender:    user.String(),
		Freshness: FreshnessFunc(func(uint64) bool { return false }),
	})
	assert.True(t, types.IsStale(err))
}

func TestNewSolanaBuilder_RequiresProgram(t *testing.T) {
	_, err := NewSolanaBuilder(fakeAccounts{}, "", 0)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	evm := NewEVMBuilder(&fakeEncoder{}, "", "")
	r := NewRegistry(evm)

	got, err := r.For(types.FamilyEVM)
	require.NoError(t, err)
	assert.Same(t, evm, got)

	_, err = r.For(types.FamilySolana)
	assert.Error(t, err)
}
