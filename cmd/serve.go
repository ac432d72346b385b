package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"routeswap/pkg/api"
	"routeswap/pkg/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve swap sessions over HTTP",
	Long: `Start the HTTP API. Each session holds one swap intent, keeps its quote fresh
and executes it on confirm. Prometheus metrics are served at /metrics.

Session routes sign with your configured wallet, so they require the bearer
token from server.token (ROUTESWAP_SERVER_TOKEN). The server listens on
127.0.0.1:8080 by default and only pays out to the signing wallet unless
server.allow_foreign_recipient is set.

Examples:
  routeswap serve
  routeswap serve --addr :9090`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr)")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, env := loadEnvironment()
	defer env.Close()

	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil || cfg.LogLevel == "" {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	}

	if cfg.Server.Token == "" {
		printError(errors.New("server.token (or ROUTESWAP_SERVER_TOKEN) must be set to serve the API"))
		os.Exit(1)
	}
	addr := cfg.ServerAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	server := api.NewServer(api.Config{
		Addr:                  addr,
		Token:                 cfg.Server.Token,
		AllowForeignRecipient: cfg.Server.AllowForeignRecipient,
	}, env, session.OptionsFromConfig(cfg))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			env.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		if err := server.Stop(context.Background()); err != nil {
			os.Exit(1)
		}
	}
}
