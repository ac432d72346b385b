package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routeswap/config"
	"routeswap/pkg/parser"
	"routeswap/pkg/session"
	"routeswap/pkg/types"
)

var (
	quoteChain string
	quoteWatch bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token> [on <chain>]",
	Short: "Show a swap quote without executing it",
	Long: `Fetch a route for a same-chain swap and show the output amount, protocol fee,
price impact and the minimum received at the configured slippage.

Examples:
  routeswap quote 1 ETH to USDC
  routeswap quote 250 USDC to WETH on base
  routeswap quote USDC to exactly 2 SOL on solana --watch`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteChain, "chain", "", "Chain to quote on (defaults to the configured chain)")
	quoteCmd.Flags().BoolVarP(&quoteWatch, "watch", "w", false, "Keep refreshing the quote until interrupted")
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	swapReq, err := parseRequest(args, quoteChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	cfg, env := loadEnvironment()
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, env, swapReq, !jsonOutput)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	showSnapshot(sess.Snapshot(), jsonOutput)

	if !quoteWatch {
		return
	}
	if !jsonOutput {
		fmt.Printf("Refreshing every %s. Press Ctrl+C to stop.\n", cfg.PollInterval)
	}
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				color.Red("Error: %v", err)
				continue
			}
			showSnapshot(sess.Snapshot(), jsonOutput)
		}
	}
}

// parseRequest turns command arguments into a swap request. A chain named in
// the command wins over the --chain flag.
func parseRequest(args []string, chainFlag string) (*types.SwapRequest, error) {
	swapReq, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	if swapReq.ChainID == "" {
		swapReq.ChainID = chainFlag
	}
	if err := parser.ValidateSwapRequest(swapReq); err != nil {
		return nil, err
	}
	return swapReq, nil
}

// openSession selects the chain and fetches the first quote
func openSession(ctx context.Context, cfg *config.Config, env *session.Environment, swapReq *types.SwapRequest, showSpinner bool) (*session.Session, error) {
	chainID := swapReq.ChainID
	if chainID == "" {
		chainID = cfg.DefaultChain()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if showSpinner {
		s.Suffix = " Fetching quote..."
		s.Start()
		defer s.Stop()
	}

	sess := session.New(env, session.OptionsFromConfig(cfg))
	if err := sess.SetChain(ctx, chainID); err != nil {
		return nil, err
	}
	if err := sess.SetIntent(ctx, swapReq.SourceToken, swapReq.DestToken, swapReq.Amount, swapReq.Kind); err != nil {
		return nil, err
	}
	return sess, nil
}

func showSnapshot(snap session.Snapshot, jsonOutput bool) {
	if jsonOutput {
		printJSON(snap)
		return
	}
	if snap.Quote == nil {
		color.Yellow("\nNo quote available.")
		if snap.Error != "" {
			fmt.Printf("  %s\n", snap.Error)
		}
		return
	}
	displayQuote(snap.Chain, snap.Quote)
}
