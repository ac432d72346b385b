package parser

import (
	"fmt"
	"regexp"
	"strings"

	"routeswap/pkg/types"
)

var (
	// <amount> <token> TO <token>
	exactInPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+(?:TO|FOR)\s+([A-Z0-9]+)$`)
	// <token> TO <amount> <token>
	exactOutPattern = regexp.MustCompile(`^([A-Z0-9]+)\s+(?:TO|FOR)\s+(?:EXACTLY\s+)?(\d+\.?\d*)\s+([A-Z0-9]+)$`)
	chainSuffix     = regexp.MustCompile(`\s+ON\s+([A-Z0-9-]+)$`)
)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 SOL to USDC"
//   - "1.5 ETH to USDC on base"
//   - "swap USDC to exactly 100 DAI"
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	// Normalize the command
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")

	// Remove the word "SWAP" if present at the beginning
	command = strings.TrimPrefix(command, "SWAP ")

	req := &types.SwapRequest{}
	if m := chainSuffix.FindStringSubmatch(command); m != nil {
		req.ChainID = strings.ToLower(m[1])
		command = strings.TrimSuffix(command, m[0])
	}

	if m := exactInPattern.FindStringSubmatch(command); m != nil {
		req.Amount = m[1]
		req.SourceToken = NormalizeTokenSymbol(m[2])
		req.DestToken = NormalizeTokenSymbol(m[3])
		req.Kind = types.ExactIn
		return req, nil
	}

	if m := exactOutPattern.FindStringSubmatch(command); m != nil {
		req.SourceToken = NormalizeTokenSymbol(m[1])
		req.Amount = m[2]
		req.DestToken = NormalizeTokenSymbol(m[3])
		req.Kind = types.ExactOut
		return req, nil
	}

	return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token> [on <chain>]' (e.g., 'swap 1 ETH to USDC')")
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if strings.EqualFold(req.SourceToken, req.DestToken) {
		return fmt.Errorf("source and destination tokens must differ")
	}
	if req.Kind != "" && req.Kind != types.ExactIn && req.Kind != types.ExactOut {
		return fmt.Errorf("unknown swap kind %q", req.Kind)
	}
	return nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format.
// Wrapped and native assets stay distinct: WETH is not ETH on-chain.
func NormalizeTokenSymbol(symbol string) string {
	// Convert to uppercase for consistency
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	// Handle common aliases
	aliases := map[string]string{
		"ETHER":  "ETH",
		"MATIC":  "POL",
		"SOLANA": "SOL",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
