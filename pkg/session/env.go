package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/config"
	"routeswap/pkg/builder"
	"routeswap/pkg/chain"
	"routeswap/pkg/client"
	"routeswap/pkg/execution"
	"routeswap/pkg/wallet"
)

// Environment resolves chains from configuration. Connections, builders,
// signers and dispatchers are created once per chain and shared by every
// session; all dispatchers write to one journal.
type Environment struct {
	cfg          *config.Config
	routes       *client.RouteClient
	journal      *execution.Journal
	prompt       wallet.PromptFunc
	dispatchOpts []execution.Option
	logger       zerolog.Logger

	mu      sync.Mutex
	deps    map[string]*Deps
	closers []func()
}

// EnvOption configures an Environment
type EnvOption func(*Environment)

// WithPrompt asks before every signature
func WithPrompt(prompt wallet.PromptFunc) EnvOption {
	return func(e *Environment) {
		e.prompt = prompt
	}
}

// WithRouteClient replaces the routing service client built from config
func WithRouteClient(c *client.RouteClient) EnvOption {
	return func(e *Environment) {
		e.routes = c
	}
}

// WithDispatcherOptions are applied to every chain's dispatcher
func WithDispatcherOptions(opts ...execution.Option) EnvOption {
	return func(e *Environment) {
		e.dispatchOpts = append(e.dispatchOpts, opts...)
	}
}

// NewEnvironment opens the execution journal at cfg.HistoryPath
func NewEnvironment(cfg *config.Config, opts ...EnvOption) (*Environment, error) {
	journal, err := execution.NewJournal(cfg.HistoryPath)
	if err != nil {
		return nil, err
	}
	e := &Environment{
		cfg:     cfg,
		journal: journal,
		deps:    make(map[string]*Deps),
		logger:  log.With().Str("component", "environment").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.routes == nil {
		e.routes = client.NewRouteClient(cfg.BaseURL,
			client.WithClientID(cfg.ClientID),
			client.WithMaxRetries(cfg.MaxRetries),
		)
	}
	return e, nil
}

// Config returns the loaded configuration
func (e *Environment) Config() *config.Config { return e.cfg }

// Journal returns the shared execution journal
func (e *Environment) Journal() *execution.Journal { return e.journal }

// Routes returns the routing service client
func (e *Environment) Routes() *client.RouteClient { return e.routes }

// Resolve connects to chainID on first use
func (e *Environment) Resolve(ctx context.Context, chainID string) (*Deps, error) {
	cc, err := e.cfg.ChainConfig(chainID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if deps, ok := e.deps[cc.ID]; ok {
		return deps, nil
	}

	deps, err := e.connect(ctx, cc)
	if err != nil {
		return nil, err
	}
	e.deps[cc.ID] = deps
	return deps, nil
}

func (e *Environment) connect(ctx context.Context, cc config.ChainConfig) (*Deps, error) {
	ch, err := chain.Dial(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cc.ID, err)
	}

	key := e.cfg.SigningKey(cc)
	registry := builder.NewRegistry()
	var signer wallet.Signer = wallet.Unavailable{Chain: cc.ID}

	switch c := ch.(type) {
	case *chain.EVM:
		e.closers = append(e.closers, c.Close)
		registry.Register(builder.NewEVMBuilder(e.routes, cc.RouterAddress, e.cfg.ClientID))
		if key != "" {
			s, err := wallet.NewEVMSigner(key, cc.ChainID, c.Client(), wallet.EVMOptions{
				GasPrice: cc.GasPrice,
				GasLimit: cc.GasLimit,
			})
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", cc.ID, err)
			}
			signer = s
		}
	case *chain.Solana:
		b, err := builder.NewSolanaBuilder(c, cc.RouterAddress, cc.ComputeUnitPrice)
		if err != nil {
			// quoting still works, confirming reports the missing builder
			e.logger.Warn().Err(err).Str("chain", cc.ID).Msg("solana swaps disabled")
		} else {
			registry.Register(b)
		}
		if key != "" {
			s, err := wallet.NewSolanaSigner(key, c.Client(), c.Commitment())
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", cc.ID, err)
			}
			signer = s
		}
	default:
		return nil, fmt.Errorf("unsupported chain family: %s", cc.Family)
	}

	if e.prompt != nil {
		signer = wallet.NewConfirming(signer, e.prompt)
	}

	opts := append([]execution.Option{execution.WithJournal(e.journal)}, e.dispatchOpts...)
	deps := &Deps{
		Config:     cc,
		Quotes:     e.routes,
		Builders:   registry,
		Chain:      ch,
		Dispatcher: execution.NewDispatcher(ch, opts...),
		Signer:     signer,
	}

	e.logger.Info().
		Str("chain", cc.ID).
		Str("family", string(cc.Family)).
		Bool("signer", signer.Address() != "").
		Msg("chain connected")
	return deps, nil
}

// Dispatcher returns the dispatcher of a chain, connecting if needed
func (e *Environment) Dispatcher(ctx context.Context, chainID string) (*execution.Dispatcher, error) {
	deps, err := e.Resolve(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return deps.Dispatcher, nil
}

// Close releases RPC connections
func (e *Environment) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
	e.deps = make(map[string]*Deps)
}

