package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"routeswap/pkg/execution"
	"routeswap/pkg/route"
	"routeswap/pkg/session"
	"routeswap/pkg/types"
)

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func displayQuote(chainID string, q *session.QuoteView) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Chain:             %s\n", chainID)
	if q.Kind == string(types.ExactOut) {
		fmt.Printf("  From:              ~%s %s\n", q.AmountIn, color.YellowString(q.TokenIn))
		fmt.Printf("  To:                %s %s\n", q.AmountOut, color.YellowString(q.TokenOut))
	} else {
		fmt.Printf("  From:              %s %s\n", q.AmountIn, color.YellowString(q.TokenIn))
		fmt.Printf("  To:                ~%s %s\n", q.AmountOut, color.YellowString(q.TokenOut))
	}
	if q.AmountInUSD != "" && q.AmountOutUSD != "" {
		fmt.Printf("  Value:             $%s -> $%s\n", q.AmountInUSD, q.AmountOutUSD)
	}
	fmt.Printf("  Rate:              1 %s = %s %s\n", q.TokenIn, q.ExecutionPrice, q.TokenOut)
	fmt.Printf("  Price Impact:      %s\n", coloredImpact(q))

	if q.Fee != nil {
		fee := fmt.Sprintf("%s %s", q.Fee.Amount, q.Fee.Token)
		if q.Fee.Bps > 0 {
			fee += fmt.Sprintf(" (%.2f%%)", float64(q.Fee.Bps)/100)
		}
		if q.Fee.USD != "" {
			fee += fmt.Sprintf(" ~$%s", q.Fee.USD)
		}
		fmt.Printf("  Protocol Fee:      %s\n", fee)
	}

	tolerance := fmt.Sprintf("%.2f%%", float64(q.Bound.SlippageBps)/100)
	switch q.Bound.Kind {
	case route.MinOut:
		fmt.Printf("  Minimum Received:  %s %s (slippage %s)\n", color.CyanString(q.Bound.Amount), q.TokenOut, tolerance)
	case route.MaxIn:
		fmt.Printf("  Maximum Sold:      %s %s (slippage %s)\n", color.CyanString(q.Bound.Amount), q.TokenIn, tolerance)
	}
	fmt.Printf("  Router:            %s\n", color.HiBlackString(q.Router))

	if q.Warning {
		color.Red("\n  Warning: price impact is %s (%s). You may receive much less than the input is worth.", q.PriceImpact, q.Severity)
	}
	if q.Expired {
		color.Yellow("\n  This quote has expired and will be refreshed before executing.")
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func coloredImpact(q *session.QuoteView) string {
	switch route.Severity(q.Severity) {
	case route.SeverityNone, route.SeverityLow:
		return color.GreenString(q.PriceImpact)
	case route.SeverityModerate:
		return color.YellowString(q.PriceImpact)
	case route.SeverityInvalid:
		return color.HiBlackString("unknown")
	default:
		return color.RedString(q.PriceImpact)
	}
}

func displayRecord(rec *execution.Record) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Intent:          %s\n", color.CyanString(rec.IntentID))
	fmt.Printf("  Chain:           %s\n", rec.ChainID)
	fmt.Printf("  Swap:            %s %s -> %s %s\n", rec.Swap.AmountIn, rec.Swap.TokenIn, rec.Swap.AmountOut, rec.Swap.TokenOut)
	fmt.Printf("  Status:          %s\n", coloredStatus(rec.Status))
	if rec.Hash != "" {
		fmt.Printf("  Transaction:     %s\n", color.HiBlackString(rec.Hash))
	}
	if rec.Block > 0 {
		fmt.Printf("  Block:           %d\n", rec.Block)
	}
	if rec.Reason != "" {
		fmt.Printf("  Reason:          %s\n", color.RedString(describeReason(rec.Reason)))
	}
	if rec.Error != "" {
		fmt.Printf("  Detail:          %s\n", truncateString(rec.Error, 120))
	}
	if rec.Status == execution.StatusTimedOut {
		color.Yellow("  Not confirmed yet. Run with --watch to keep tracking it.")
	}
	fmt.Printf("  Submitted:       %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last Updated:    %s\n", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredStatus(status execution.Status) string {
	s := strings.ToUpper(string(status))
	switch status {
	case execution.StatusConfirmed:
		return color.GreenString(s)
	case execution.StatusPending, execution.StatusTimedOut:
		return color.YellowString(s)
	case execution.StatusFailed:
		return color.RedString(s)
	default:
		return s
	}
}

func describeReason(reason types.FailureReason) string {
	switch reason {
	case types.ReasonUserRejected:
		return "rejected in wallet"
	case types.ReasonSignerUnavailable:
		return "no wallet available to sign"
	case types.ReasonSlippageExceeded:
		return "price moved beyond the slippage tolerance"
	case types.ReasonReverted:
		return "transaction reverted"
	case types.ReasonInsufficientFunds:
		return "insufficient funds"
	case types.ReasonNetwork:
		return "network error or confirmation timeout"
	default:
		return string(reason)
	}
}

func since(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}
