package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"routeswap/config"
	"routeswap/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:   "routeswap",
	Short: "A CLI for same-chain token swaps through a route aggregator",
	Long: `routeswap quotes same-chain swaps from a routing service, shows the fee,
price impact and minimum received, and executes the route from your own wallet
on EVM chains and Solana.

Examples:
  routeswap quote 1 ETH to USDC
  routeswap swap 100 USDC to WETH on base --slippage 30
  routeswap swap USDC to exactly 1 SOL on solana
  routeswap status <intent-id|tx-hash> --watch
  routeswap history
  routeswap serve`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		setupLogging(verbose, jsonOutput)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// setupLogging writes human-readable logs to stderr. Only warnings are shown
// unless --verbose is set; --json switches to structured output.
func setupLogging(verbose, jsonOutput bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// loadEnvironment reads configuration and prepares chain connections
func loadEnvironment(opts ...session.EnvOption) (*config.Config, *session.Environment) {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	env, err := session.NewEnvironment(cfg, opts...)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return cfg, env
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}

func askYesNo(question string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", question)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
