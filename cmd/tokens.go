package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routeswap/config"
)

var (
	filterChain  string
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List configured chains and tokens",
	Long: `List the chains and tokens routeswap knows about. Tokens are configured per
chain under chains.<id>.tokens in ~/.routeswap.yaml; any token can also be
given by address.

Examples:
  routeswap list-tokens
  routeswap list-tokens --chain solana
  routeswap list-tokens --symbol USDC`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by chain")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

type tokenRow struct {
	Chain    string `json:"chain"`
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Native   bool   `json:"native"`
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	rows := collectTokens(cfg, filterChain, filterSymbol)
	if jsonOutput {
		printJSON(rows)
		return
	}
	displayTokens(rows)
}

func collectTokens(cfg *config.Config, chainFilter, symbolFilter string) []tokenRow {
	var rows []tokenRow
	for _, id := range cfg.ChainIDs() {
		if chainFilter != "" && !strings.EqualFold(id, chainFilter) {
			continue
		}
		ch := cfg.Chains[id]
		for _, sym := range ch.Symbols() {
			if symbolFilter != "" && !strings.Contains(strings.ToUpper(sym), strings.ToUpper(symbolFilter)) {
				continue
			}
			c, err := ch.ResolveToken(sym)
			if err != nil {
				continue
			}
			rows = append(rows, tokenRow{
				Chain:    id,
				Symbol:   c.Symbol(),
				Address:  c.Address(),
				Decimals: c.Decimals(),
				Native:   c.IsNative(),
			})
		}
	}
	return rows
}

func displayTokens(rows []tokenRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            CONFIGURED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	chains := 0
	current := ""
	for _, row := range rows {
		if row.Chain != current {
			current = row.Chain
			chains++
			color.Cyan("\n%s", strings.ToUpper(row.Chain))
			fmt.Println(strings.Repeat("-", 90))
		}
		address := row.Address
		if row.Native {
			address = "native"
		}
		fmt.Printf("  %-10s  %2d decimals  %s\n",
			color.YellowString(row.Symbol),
			row.Decimals,
			color.HiBlackString(truncateString(address, 44)))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d chains\n\n", len(rows), chains)
}
