package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"routeswap/pkg/types"
)

// Config holds the application configuration
type Config struct {
	BaseURL      string
	ClientID     string
	SlippageBps  uint16
	Deadline     time.Duration
	MaxQuoteAge  time.Duration
	PollInterval time.Duration
	MaxRetries   int
	HistoryPath  string
	LogLevel     string
	ServerAddr   string
	Server       ServerConfig
	Wallet       WalletConfig
	Chains       map[string]ChainConfig
}

// ServerConfig secures the HTTP API. Requests need the bearer token; swaps
// pay out to the signing wallet unless other recipients are allowed.
type ServerConfig struct {
	Token                 string
	AllowForeignRecipient bool
}

// WalletConfig holds the default signing keys. A chain's own private_key wins.
type WalletConfig struct {
	EVMPrivateKey    string `mapstructure:"evm_private_key"`
	SolanaPrivateKey string `mapstructure:"solana_private_key"`
}

// NativeToken describes a chain's gas asset
type NativeToken struct {
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// TokenConfig is a known token on a chain
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// ChainConfig is everything the pipeline needs to know about one chain
type ChainConfig struct {
	ID            string                 `mapstructure:"-"`
	Family        types.ChainFamily      `mapstructure:"-"`
	FamilyName    string                 `mapstructure:"family"`
	ChainID       int64                  `mapstructure:"chain_id"`
	RPCEndpoints  []string               `mapstructure:"rpc_endpoints"`
	NativeToken   NativeToken            `mapstructure:"native"`
	RouterAddress string                 `mapstructure:"router_address"`
	Tokens        map[string]TokenConfig `mapstructure:"tokens"`
	PrivateKey    string                 `mapstructure:"private_key"`

	// EVM overrides
	GasPrice *int64  `mapstructure:"gas_price"`
	GasLimit *uint64 `mapstructure:"gas_limit"`

	// Solana options
	Commitment       string `mapstructure:"commitment"`
	SkipPreflight    bool   `mapstructure:"skip_preflight"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".routeswap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Set default values
	viper.SetDefault("base_url", "https://aggregator-api.kyberswap.com")
	viper.SetDefault("client_id", "routeswap")
	viper.SetDefault("slippage_bps", 50)
	viper.SetDefault("deadline", "20m")
	viper.SetDefault("quote.max_age", "30s")
	viper.SetDefault("quote.poll_interval", "10s")
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("history_path", defaultHistoryPath())
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.addr", "127.0.0.1:8080")

	// Read from environment variables
	viper.SetEnvPrefix("ROUTESWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	slippage := v.GetInt("slippage_bps")
	if slippage < 0 || slippage > 10000 {
		return nil, fmt.Errorf("slippage_bps must be between 0 and 10000, got %d", slippage)
	}

	cfg := &Config{
		BaseURL:      v.GetString("base_url"),
		ClientID:     v.GetString("client_id"),
		SlippageBps:  uint16(slippage),
		Deadline:     v.GetDuration("deadline"),
		MaxQuoteAge:  v.GetDuration("quote.max_age"),
		PollInterval: v.GetDuration("quote.poll_interval"),
		MaxRetries:   v.GetInt("max_retries"),
		HistoryPath:  v.GetString("history_path"),
		LogLevel:     v.GetString("log_level"),
		ServerAddr:   v.GetString("server.addr"),
		Server: ServerConfig{
			Token:                 v.GetString("server.token"),
			AllowForeignRecipient: v.GetBool("server.allow_foreign_recipient"),
		},
		Wallet: WalletConfig{
			EVMPrivateKey:    v.GetString("wallet.evm_private_key"),
			SolanaPrivateKey: v.GetString("wallet.solana_private_key"),
		},
	}

	chains := map[string]ChainConfig{}
	if v.IsSet("chains") {
		if err := v.UnmarshalKey("chains", &chains); err != nil {
			return nil, fmt.Errorf("invalid chains configuration: %w", err)
		}
	}
	if len(chains) == 0 {
		chains = DefaultChains()
	}

	cfg.Chains = make(map[string]ChainConfig, len(chains))
	for id, chain := range chains {
		id = strings.ToLower(id)
		family, err := types.ParseChainFamily(chain.FamilyName)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", id, err)
		}
		chain.ID = id
		chain.Family = family
		if len(chain.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %s: at least one rpc endpoint is required", id)
		}
		if chain.NativeToken.Symbol == "" {
			return nil, fmt.Errorf("chain %s: native token symbol is required", id)
		}
		tokens := make(map[string]TokenConfig, len(chain.Tokens))
		for sym, tok := range chain.Tokens {
			tokens[strings.ToUpper(sym)] = tok
		}
		chain.Tokens = tokens
		cfg.Chains[id] = chain
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	return cfg, nil
}

// ChainConfig looks up a configured chain
func (c *Config) ChainConfig(chainID string) (ChainConfig, error) {
	chain, ok := c.Chains[strings.ToLower(strings.TrimSpace(chainID))]
	if !ok {
		return ChainConfig{}, fmt.Errorf("chain '%s' not configured (available: %s)", chainID, strings.Join(c.ChainIDs(), ", "))
	}
	return chain, nil
}

// ChainIDs lists configured chains in a stable order
func (c *Config) ChainIDs() []string {
	ids := make([]string, 0, len(c.Chains))
	for id := range c.Chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultChain returns the only configured chain, or ethereum when several exist
func (c *Config) DefaultChain() string {
	if len(c.Chains) == 1 {
		for id := range c.Chains {
			return id
		}
	}
	return "ethereum"
}

// SigningKey returns the private key used on this chain
func (c *Config) SigningKey(chain ChainConfig) string {
	if chain.PrivateKey != "" {
		return chain.PrivateKey
	}
	if chain.Family == types.FamilySolana {
		return c.Wallet.SolanaPrivateKey
	}
	return c.Wallet.EVMPrivateKey
}

// Native returns the chain's native currency
func (ch ChainConfig) Native() types.Currency {
	return types.NewNative(ch.ID, ch.Family, ch.NativeToken.Decimals, ch.NativeToken.Symbol)
}

// ResolveToken finds a currency by symbol or by configured address
func (ch ChainConfig) ResolveToken(symbolOrAddress string) (types.Currency, error) {
	key := strings.TrimSpace(symbolOrAddress)
	if strings.EqualFold(key, ch.NativeToken.Symbol) {
		return ch.Native(), nil
	}
	if tok, ok := ch.Tokens[strings.ToUpper(key)]; ok {
		return types.NewToken(ch.ID, ch.Family, tok.Address, tok.Decimals, strings.ToUpper(key)), nil
	}
	for sym, tok := range ch.Tokens {
		c := types.NewToken(ch.ID, ch.Family, tok.Address, tok.Decimals, sym)
		if c.MatchesAddress(key) {
			return c, nil
		}
	}
	return types.Currency{}, fmt.Errorf("token '%s' not found on chain '%s'", symbolOrAddress, ch.ID)
}

// Symbols lists known token symbols including the native one
func (ch ChainConfig) Symbols() []string {
	out := []string{ch.NativeToken.Symbol}
	for sym := range ch.Tokens {
		out = append(out, sym)
	}
	sort.Strings(out[1:])
	return out
}

// DefaultChains is used when the config file defines none
func DefaultChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"ethereum": {
			FamilyName:    "evm",
			ChainID:       1,
			RPCEndpoints:  []string{"https://ethereum-rpc.publicnode.com"},
			NativeToken:   NativeToken{Symbol: "ETH", Decimals: 18},
			RouterAddress: "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
			Tokens: map[string]TokenConfig{
				"USDC": {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				"USDT": {Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				"DAI":  {Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
				"WETH": {Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
			},
		},
		"base": {
			FamilyName:    "evm",
			ChainID:       8453,
			RPCEndpoints:  []string{"https://mainnet.base.org"},
			NativeToken:   NativeToken{Symbol: "ETH", Decimals: 18},
			RouterAddress: "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
			Tokens: map[string]TokenConfig{
				"USDC": {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
				"WETH": {Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
			},
		},
		// router_address (the swap program) has to be configured before solana swaps can be built
		"solana": {
			FamilyName:   "solana",
			RPCEndpoints: []string{"https://api.mainnet-beta.solana.com"},
			NativeToken:  NativeToken{Symbol: "SOL", Decimals: 9},
			Commitment:   "confirmed",
			Tokens: map[string]TokenConfig{
				"USDC": {Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
				"USDT": {Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
			},
		},
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routeswap-history.json"
	}
	return filepath.Join(home, ".routeswap", "history.json")
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
