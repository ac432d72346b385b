package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routeswap/config"
	"routeswap/pkg/execution"
)

var (
	historyStatus string
	historyChain  string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List submitted swaps",
	Long: `List swaps from the local execution history, newest first.

Examples:
  routeswap history
  routeswap history --status pending
  routeswap history --chain base --limit 5`,
	Args: cobra.NoArgs,
	Run:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (pending, timed_out, confirmed, failed)")
	historyCmd.Flags().StringVar(&historyChain, "chain", "", "Filter by chain")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of swaps to show")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	journal, err := execution.NewJournal(cfg.HistoryPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	records := journal.List()
	if historyStatus != "" {
		records = journal.ListByStatus(execution.Status(strings.ToLower(historyStatus)))
	}
	records = filterRecords(records, historyChain, historyLimit)

	if jsonOutput {
		printJSON(records)
		return
	}
	displayHistory(records)
}

func filterRecords(records []*execution.Record, chainID string, limit int) []*execution.Record {
	out := records[:0]
	for _, rec := range records {
		if chainID != "" && !strings.EqualFold(rec.ChainID, chainID) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func displayHistory(records []*execution.Record) {
	if len(records) == 0 {
		fmt.Println("\nNo swaps found.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 100))
	color.Green("                                        SWAP HISTORY")
	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("\n  %-10s %-10s %-34s %-12s %-14s %s\n", "WHEN", "CHAIN", "SWAP", "STATUS", "REASON", "TX")
	fmt.Println("  " + strings.Repeat("-", 96))

	for _, rec := range records {
		swap := fmt.Sprintf("%s %s -> %s %s", rec.Swap.AmountIn, rec.Swap.TokenIn, rec.Swap.AmountOut, rec.Swap.TokenOut)
		// pad before colouring so escape codes do not break alignment
		status := fmt.Sprintf("%-12s", strings.ToUpper(string(rec.Status)))
		switch rec.Status {
		case execution.StatusConfirmed:
			status = color.GreenString(status)
		case execution.StatusPending, execution.StatusTimedOut:
			status = color.YellowString(status)
		case execution.StatusFailed:
			status = color.RedString(status)
		}
		fmt.Printf("  %-10s %-10s %-34s %s %-14s %s\n",
			since(rec.CreatedAt),
			truncateString(rec.ChainID, 10),
			truncateString(swap, 34),
			status,
			string(rec.Reason),
			color.HiBlackString(truncateString(rec.Hash, 20)))
	}

	fmt.Println("\n" + strings.Repeat("=", 100))
	fmt.Printf("\nTotal: %d swaps\n\n", len(records))
}
