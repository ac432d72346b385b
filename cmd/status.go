package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routeswap/pkg/execution"
)

var (
	watchStatus  bool
	watchTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <intent-id|tx-hash>",
	Short: "Check the status of a submitted swap",
	Long: `Show a swap from the local execution history by intent ID or transaction hash.
With --watch a pending or timed-out swap is tracked on-chain until it confirms
or fails.

Examples:
  routeswap status 5f0c9a4e-...
  routeswap status 0x1234...abcd --watch`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Track a pending swap until it settles")
	statusCmd.Flags().DurationVar(&watchTimeout, "timeout", execution.DefaultTrackTimeout, "How long to wait for a pending swap")
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	_, env := loadEnvironment()
	defer env.Close()

	rec, err := findRecord(env.Journal(), args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if watchStatus && !rec.IsTerminal() {
		rec = watchRecord(env, rec, jsonOutput)
	}

	if jsonOutput {
		printJSON(rec)
	} else {
		displayRecord(rec)
	}
}

func findRecord(journal *execution.Journal, ref string) (*execution.Record, error) {
	if rec, err := journal.Get(ref); err == nil {
		return rec, nil
	}
	rec, err := journal.FindByHash(ref)
	if err != nil {
		return nil, fmt.Errorf("no swap with intent ID or hash %s in %s", ref, journal.Path())
	}
	return rec, nil
}

type dispatcherSource interface {
	Dispatcher(ctx context.Context, chainID string) (*execution.Dispatcher, error)
}

func watchRecord(env dispatcherSource, rec *execution.Record, jsonOutput bool) *execution.Record {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()

	d, err := env.Dispatcher(ctx, rec.ChainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		fmt.Printf("\nWatching %s on %s. Press Ctrl+C to stop.\n", color.CyanString(rec.Hash), rec.ChainID)
		s.Suffix = " Waiting for confirmation..."
		s.Start()
		defer s.Stop()
	}

	for update := range d.Track(ctx, *rec) {
		u := update
		rec = &u
	}
	return rec
}
