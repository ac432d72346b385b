package builder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/amount"
	"routeswap/pkg/metrics"
	"routeswap/pkg/route"
	"routeswap/pkg/types"
)

// AccountChecker reports whether an account already exists on-chain
type AccountChecker interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
}

// SolanaBuilder encodes a route locally as an instruction list
type SolanaBuilder struct {
	accounts         AccountChecker
	program          solana.PublicKey
	computeUnitPrice uint64
	logger           zerolog.Logger
}

// NewSolanaBuilder creates a builder targeting the given swap program
func NewSolanaBuilder(accounts AccountChecker, program string, computeUnitPrice uint64) (*SolanaBuilder, error) {
	if program == "" {
		return nil, fmt.Errorf("router program not configured for solana")
	}
	programID, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid router program: %w", err)
	}
	return &SolanaBuilder{
		accounts:         accounts,
		program:          programID,
		computeUnitPrice: computeUnitPrice,
		logger:           log.With().Str("component", "solana-builder").Logger(),
	}, nil
}

func (b *SolanaBuilder) Family() types.ChainFamily { return types.FamilySolana }

// Build produces, in order: compute budget, missing token accounts, SOL wrap,
// the swap itself, and a SOL unwrap
func (b *SolanaBuilder) Build(ctx context.Context, req Request) (Intent, error) {
	intent, err := b.build(ctx, req)
	if err != nil {
		metrics.BuildRequests.WithLabelValues(string(types.FamilySolana), "error").Inc()
		return nil, err
	}
	metrics.BuildRequests.WithLabelValues(string(types.FamilySolana), "ok").Inc()
	return intent, nil
}

func (b *SolanaBuilder) build(ctx context.Context, req Request) (*SolanaIntent, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	summary := req.Summary

	user, err := solana.PublicKeyFromBase58(req.Sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(recipientOf(req))
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	if summary.TokenOut.IsNative() && !recipient.Equals(user) {
		return nil, fmt.Errorf("native SOL output can only be received by the sender")
	}

	mintIn, err := mintOf(summary.TokenIn)
	if err != nil {
		return nil, err
	}
	mintOut, err := mintOf(summary.TokenOut)
	if err != nil {
		return nil, err
	}

	amountArg, threshold, err := swapAmounts(summary, req.Bound)
	if err != nil {
		return nil, err
	}

	hops, err := flattenHops(summary)
	if err != nil {
		return nil, err
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(user, mintIn)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mintOut)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	instructions := []solana.Instruction{}

	if b.computeUnitPrice > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(b.computeUnitPrice).Build())
	}

	// Native input is wrapped into the user's wSOL account, which may need creating
	if summary.TokenIn.IsNative() {
		ix, err := b.createIfMissing(ctx, user, user, mintIn, sourceATA)
		if err != nil {
			return nil, err
		}
		if ix != nil {
			instructions = append(instructions, ix)
		}
		wrap := summary.AmountIn
		if req.Bound.Kind == route.MaxIn {
			wrap = req.Bound.Amount
		}
		if !wrap.IsUint64() {
			return nil, fmt.Errorf("wrap amount %s does not fit u64", wrap)
		}
		instructions = append(instructions,
			system.NewTransferInstruction(wrap.Uint64(), user, sourceATA).Build(),
			token.NewSyncNativeInstruction(sourceATA).Build(),
		)
	}

	ix, err := b.createIfMissing(ctx, user, recipient, mintOut, destATA)
	if err != nil {
		return nil, err
	}
	if ix != nil {
		instructions = append(instructions, ix)
	}

	swap := &SwapInstruction{
		Program:              b.program,
		Amount:               amountArg,
		OtherAmountThreshold: threshold,
		ExactOut:             summary.Kind == types.ExactOut,
		User:                 user,
		SourceTokenAccount:   sourceATA,
		DestTokenAccount:     destATA,
		SourceMint:           mintIn,
		DestMint:             mintOut,
		Hops:                 hops,
	}
	instructions = append(instructions, swap)

	// Leftover wSOL goes back to the user as SOL
	if summary.TokenIn.IsNative() {
		instructions = append(instructions, token.NewCloseAccountInstruction(sourceATA, user, user, []solana.PublicKey{}).Build())
	}
	if summary.TokenOut.IsNative() {
		instructions = append(instructions, token.NewCloseAccountInstruction(destATA, user, user, []solana.PublicKey{}).Build())
	}

	intent := &SolanaIntent{
		Meta:         newMeta(summary),
		Instructions: instructions,
		FeePayer:     user,
	}

	b.logger.Info().
		Str("intent", intent.IntentID).
		Uint64("sequence", intent.Sequence).
		Int("instructions", len(instructions)).
		Int("hops", len(hops)).
		Msg("solana transaction built")

	return intent, nil
}

func (b *SolanaBuilder) createIfMissing(ctx context.Context, payer, wallet, mint, ata solana.PublicKey) (solana.Instruction, error) {
	exists, err := b.accounts.AccountExists(ctx, ata)
	if err != nil {
		return nil, fmt.Errorf("failed to check token account %s: %w", ata, err)
	}
	if exists {
		return nil, nil
	}
	return associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build(), nil
}

func mintOf(c types.Currency) (solana.PublicKey, error) {
	if c.IsNative() {
		return solana.SolMint, nil
	}
	mint, err := solana.PublicKeyFromBase58(c.Address())
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid mint %s: %w", c.Address(), err)
	}
	return mint, nil
}

// swapAmounts returns the fixed amount and the protecting threshold as u64
func swapAmounts(summary *route.Summary, bound route.Bound) (uint64, uint64, error) {
	fixed := summary.AmountIn
	if summary.Kind == types.ExactOut {
		fixed = summary.AmountOut
	}
	for _, a := range []amount.Amount{fixed, bound.Amount} {
		if !a.IsUint64() {
			return 0, 0, fmt.Errorf("amount %s does not fit u64", a)
		}
	}
	return fixed.Uint64(), bound.Amount.Uint64(), nil
}

// Hop is one pool the swap program traverses
type Hop struct {
	Pool    solana.PublicKey
	Program solana.PublicKey
}

func flattenHops(summary *route.Summary) ([]Hop, error) {
	var hops []Hop
	for _, path := range summary.Route {
		for _, h := range path {
			pool, err := solana.PublicKeyFromBase58(h.Pool)
			if err != nil {
				return nil, fmt.Errorf("invalid pool %s: %w", h.Pool, err)
			}
			program, err := solana.PublicKeyFromBase58(h.ProgramID)
			if err != nil {
				return nil, fmt.Errorf("invalid program for pool %s: %w", h.Pool, err)
			}
			hops = append(hops, Hop{Pool: pool, Program: program})
		}
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("route has no hops")
	}
	if len(hops) > 255 {
		return nil, fmt.Errorf("route has too many hops: %d", len(hops))
	}
	return hops, nil
}

// SwapInstruction calls the router program's route entrypoint
type SwapInstruction struct {
	Program              solana.PublicKey
	Amount               uint64
	OtherAmountThreshold uint64
	ExactOut             bool
	User                 solana.PublicKey
	SourceTokenAccount   solana.PublicKey
	DestTokenAccount     solana.PublicKey
	SourceMint           solana.PublicKey
	DestMint             solana.PublicKey
	Hops                 []Hop
}

var routeDiscriminator = anchorDiscriminator("route")

func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

func (inst *SwapInstruction) ProgramID() solana.PublicKey {
	return inst.Program
}

func (inst *SwapInstruction) Accounts() []*solana.AccountMeta {
	out := []*solana.AccountMeta{
		solana.Meta(inst.User).WRITE().SIGNER(),
		solana.Meta(inst.SourceTokenAccount).WRITE(),
		solana.Meta(inst.DestTokenAccount).WRITE(),
		solana.Meta(inst.SourceMint),
		solana.Meta(inst.DestMint),
		solana.Meta(solana.TokenProgramID),
	}
	for _, h := range inst.Hops {
		out = append(out, solana.Meta(h.Pool).WRITE(), solana.Meta(h.Program))
	}
	return out
}

func (inst *SwapInstruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	// Write discriminator for route instruction
	if _, err := buf.Write(routeDiscriminator); err != nil {
		return nil, fmt.Errorf("failed to write discriminator: %w", err)
	}

	// Write amount
	if err := enc.WriteUint64(inst.Amount, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode amount: %w", err)
	}

	// Write other amount threshold
	if err := enc.WriteUint64(inst.OtherAmountThreshold, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode other amount threshold: %w", err)
	}

	if err := enc.WriteBool(inst.ExactOut); err != nil {
		return nil, fmt.Errorf("failed to encode swap mode: %w", err)
	}

	if err := enc.WriteUint8(uint8(len(inst.Hops))); err != nil {
		return nil, fmt.Errorf("failed to encode hop count: %w", err)
	}

	return buf.Bytes(), nil
}
