package types

import (
	"fmt"
	"strings"
)

// ChainFamily is the structural class of a chain's transaction model
type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
)

// ParseChainFamily normalizes a configured family name
func ParseChainFamily(s string) (ChainFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evm", "ethereum":
		return FamilyEVM, nil
	case "solana", "sol", "svm":
		return FamilySolana, nil
	default:
		return "", fmt.Errorf("unknown chain family: %q", s)
	}
}

// Native asset markers used by the routing service
const (
	EVMNativeAddress    = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	SolanaNativeAddress = "So11111111111111111111111111111111111111112"
)

// Currency identifies a token on a specific chain. Values are immutable once constructed.
type Currency struct {
	chainID  string
	family   ChainFamily
	address  string
	native   bool
	decimals uint8
	symbol   string
}

// NewToken creates a contract/mint based currency
func NewToken(chainID string, family ChainFamily, address string, decimals uint8, symbol string) Currency {
	return Currency{
		chainID:  chainID,
		family:   family,
		address:  strings.TrimSpace(address),
		decimals: decimals,
		symbol:   symbol,
	}
}

// NewNative creates the native currency of a chain
func NewNative(chainID string, family ChainFamily, decimals uint8, symbol string) Currency {
	return Currency{
		chainID:  chainID,
		family:   family,
		address:  nativeMarker(family),
		native:   true,
		decimals: decimals,
		symbol:   symbol,
	}
}

func nativeMarker(family ChainFamily) string {
	if family == FamilySolana {
		return SolanaNativeAddress
	}
	return EVMNativeAddress
}

func (c Currency) ChainID() string     { return c.chainID }
func (c Currency) Family() ChainFamily { return c.family }
func (c Currency) Address() string     { return c.address }
func (c Currency) IsNative() bool      { return c.native }
func (c Currency) Decimals() uint8     { return c.decimals }
func (c Currency) Symbol() string      { return c.symbol }
func (c Currency) IsZero() bool        { return c.chainID == "" && c.address == "" }

// Equals reports whether both currencies are the same asset on the same chain.
// EVM addresses compare case-insensitively, Solana mints exactly.
func (c Currency) Equals(other Currency) bool {
	if c.chainID != other.chainID {
		return false
	}
	if c.native || other.native {
		return c.native == other.native
	}
	return c.MatchesAddress(other.address)
}

// MatchesAddress compares a raw address reported by an external service against this currency
func (c Currency) MatchesAddress(address string) bool {
	address = strings.TrimSpace(address)
	if c.family == FamilySolana {
		return c.address == address
	}
	return strings.EqualFold(c.address, address)
}

func (c Currency) String() string {
	if c.symbol != "" {
		return c.symbol
	}
	return c.address
}
