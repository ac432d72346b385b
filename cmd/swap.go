package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routeswap/pkg/builder"
	"routeswap/pkg/session"
	"routeswap/pkg/types"
)

// maxStaleRetries bounds how often an expired quote is re-shown before giving up
const maxStaleRetries = 3

var (
	swapChain     string
	recipientAddr string
	slippageBps   int
	deadline      time.Duration
	noConfirm     bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token> [on <chain>]",
	Short: "Quote and execute a same-chain token swap",
	Long: `Quote a swap, show the fee, price impact and minimum received, then build,
sign and submit the route from your configured wallet and wait for it to confirm.

The signing key comes from wallet.evm_private_key / wallet.solana_private_key in
~/.routeswap.yaml or ROUTESWAP_WALLET_EVM_PRIVATE_KEY / ROUTESWAP_WALLET_SOLANA_PRIVATE_KEY.

Examples:
  # Exact input
  routeswap swap 1 ETH to USDC

  # Exact output on Base with 0.3% slippage
  routeswap swap USDC to exactly 0.1 WETH on base --slippage 30

  # Send the output elsewhere and skip the signing prompt
  routeswap swap 2 SOL to USDC on solana --recipient <address> --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapChain, "chain", "", "Chain to swap on (defaults to the configured chain)")
	swapCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient of the output (defaults to your wallet)")
	swapCmd.Flags().IntVar(&slippageBps, "slippage", -1, "Slippage tolerance in basis points (defaults to slippage_bps)")
	swapCmd.Flags().DurationVar(&deadline, "deadline", 0, "Transaction deadline (defaults to the configured deadline)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip the signing prompt")
}

func runSwap(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	swapReq, err := parseRequest(args, swapChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	swapReq.Recipient = recipientAddr

	params := session.ConfirmParams{Recipient: recipientAddr, Deadline: deadline}
	if slippageBps >= 0 {
		if slippageBps > 10000 {
			printError(fmt.Errorf("slippage must be between 0 and 10000 bps, got %d", slippageBps))
			os.Exit(1)
		}
		bps := uint16(slippageBps)
		params.SlippageBps = &bps
	}

	var envOpts []session.EnvOption
	if !noConfirm && !jsonOutput {
		envOpts = append(envOpts, session.WithPrompt(promptSign))
	}
	cfg, env := loadEnvironment(envOpts...)
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, env, swapReq, !jsonOutput)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	attempt, err := confirmWithRetry(ctx, sess, params, jsonOutput)
	if err != nil {
		if errors.Is(err, types.ErrUserRejected) {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
		if jsonOutput {
			printJSON(sess.Snapshot())
		}
		printError(err)
		os.Exit(1)
	}

	waitForAttempt(ctx, attempt, jsonOutput)
}

// confirmWithRetry shows the quote and confirms it. An expired quote is
// refreshed by the session and shown again.
func confirmWithRetry(ctx context.Context, sess *session.Session, params session.ConfirmParams, jsonOutput bool) (*session.Attempt, error) {
	for i := 0; ; i++ {
		if !jsonOutput {
			showSnapshot(sess.Snapshot(), false)
		}
		attempt, err := sess.Confirm(ctx, params)
		if err == nil {
			return attempt, nil
		}
		if !types.IsStale(err) || i >= maxStaleRetries {
			return nil, err
		}
		if !jsonOutput {
			color.Yellow("The quote changed before it could be executed. Showing the updated quote.")
		}
	}
}

// promptSign is asked once the transaction is built, right before signing
func promptSign(ctx context.Context, intent builder.Intent) (bool, error) {
	d := intent.Details()
	fmt.Printf("\n  Swap %s %s for %s %s on %s\n", d.AmountIn, d.TokenIn, d.AmountOut, d.TokenOut, intent.Chain())
	return askYesNo("Sign and send this transaction?"), nil
}

func waitForAttempt(ctx context.Context, attempt *session.Attempt, jsonOutput bool) {
	view := attempt.Snapshot()
	if !jsonOutput {
		color.Green("\nTransaction submitted: %s", view.Hash)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Waiting for confirmation..."
		s.Start()
	}

	select {
	case <-attempt.Done():
	case <-attempt.Stalled():
	case <-ctx.Done():
	}
	if !jsonOutput {
		s.Stop()
	}

	view = attempt.Snapshot()
	if jsonOutput {
		printJSON(view)
		if view.Status == session.AttemptFailed {
			os.Exit(1)
		}
		return
	}

	switch view.Status {
	case session.AttemptConfirmed:
		printSuccess(fmt.Sprintf("Swap confirmed in block %d", view.Block))
	case session.AttemptFailed:
		printError(fmt.Errorf("swap failed: %s", describeReason(view.Reason)))
		if view.Error != "" {
			fmt.Printf("  %s\n\n", truncateString(view.Error, 200))
		}
		os.Exit(1)
	case session.AttemptTimedOut:
		color.Yellow("\nThe transaction was not confirmed in time. It may still land; do not resubmit yet.")
		fmt.Println("Keep watching it with:")
		color.Cyan("  routeswap status %s --watch\n", view.IntentID)
	default:
		fmt.Println("\nStopped waiting; the transaction is still pending. Check it with:")
		color.Cyan("  routeswap status %s --watch\n", view.IntentID)
	}
}
