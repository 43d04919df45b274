// Package checkout wires the MNEE Pay checkout engine: the session client,
// the wallet adapter and per-button checkout flows.
package checkout

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mneepay/checkout/cart"
	"github.com/mneepay/checkout/flow"
	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
	"github.com/mneepay/checkout/wallet"
)

// Client is the entry point shared by every checkout on a page or process.
type Client struct {
	config   types.Config
	sessions *session.Client
	wallets  *wallet.Adapter

	logger     logger.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
	httpClient *http.Client

	mu      sync.Mutex
	closers []func()
	closed  bool
}

// New creates a Client for the given configuration.
func New(config types.Config, opts ...Option) (*Client, error) {
	if fields := utils.ValidateStruct(&config); fields != nil {
		return nil, types.NewError(types.ErrConfigError, "checkout config validation failed").WithData(fields)
	}
	config = config.WithDefaults()

	c := &Client{
		config:  config,
		timeout: config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNoop(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)

	sessions, err := session.NewClient(config.APIBase,
		session.WithTimeout(c.timeout),
		session.WithHTTPClient(c.httpClient),
		session.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	c.sessions = sessions
	c.wallets = wallet.NewAdapter(wallet.WithAdapterLogger(c.logger))
	return c, nil
}

// NewWithDefaults creates a Client for apiBase with default settings.
func NewWithDefaults(apiBase string) (*Client, error) {
	return New(types.Config{APIBase: apiBase})
}

// AddEVMWallet registers the EVM family provider backed by w.
func (c *Client) AddEVMWallet(w wallet.EVMWallet) {
	c.wallets.Register(wallet.NewEVMProvider(w, wallet.WithEVMLogger(c.logger)))
}

// AddKeyedEVMWallet dials every configured EVM chain and registers a
// locally keyed signer as the EVM provider.
func (c *Client) AddKeyedEVMWallet(ctx context.Context, hexKey string, defaultNetwork types.Network) error {
	if !defaultNetwork.IsEVM() {
		return &types.CheckoutError{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("unsupported network: %s", defaultNetwork),
		}
	}
	w, err := wallet.DialKeyedEVMWallet(ctx, hexKey, c.config.Chains, defaultNetwork)
	if err != nil {
		return fmt.Errorf("failed to create keyed wallet for %s: %w", defaultNetwork, err)
	}
	c.AddEVMWallet(w)

	c.mu.Lock()
	c.closers = append(c.closers, w.Close)
	c.mu.Unlock()
	return nil
}

// AddDirectWallet registers the direct MNEE provider backed by w.
func (c *Client) AddDirectWallet(w wallet.DirectWallet) {
	c.wallets.Register(wallet.NewDirectProvider(w, wallet.WithDirectLogger(c.logger)))
}

// NewCheckout starts a checkout flow on the shared session client and
// wallet. Unset polling, logging and metrics options inherit the client's.
func (c *Client) NewCheckout(opts flow.Options) (*flow.Flow, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = c.config.PollInterval
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = c.config.MaxPollAttempts
	}
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	if opts.Metrics == nil {
		opts.Metrics = c.metrics
	}

	f, err := flow.New(c.sessions, c.wallets, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.closers = append(c.closers, f.Close)
	c.mu.Unlock()
	return f, nil
}

// NewCart builds a cart store logging through the client's logger.
func (c *Client) NewCart(opts ...cart.Option) *cart.Store {
	return cart.NewStore(append([]cart.Option{cart.WithLogger(c.logger)}, opts...)...)
}

// Sessions exposes the backend session client.
func (c *Client) Sessions() *session.Client { return c.sessions }

// Wallets exposes the shared wallet adapter.
func (c *Client) Wallets() *wallet.Adapter { return c.wallets }

func (c *Client) Config() types.Config { return c.config }

// IsNetworkSupported reports whether a wallet able to pay on network is registered.
func (c *Client) IsNetworkSupported(network types.Network) bool {
	switch {
	case network.IsEVM():
		return c.wallets.Supports(wallet.KindEVM)
	case network.IsBSV():
		return c.wallets.Supports(wallet.KindDirect)
	}
	return false
}

// Close stops every flow, disconnects the wallet and releases RPC clients.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	if err := c.wallets.Disconnect(context.Background()); err != nil {
		c.logger.Warn("wallet disconnect failed", map[string]any{"error": err})
	}
	for _, fn := range closers {
		fn()
	}
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"supported_networks": []string{
			"ethereum", "base", "polygon", "arbitrum", "optimism",
			"base-sepolia", "sepolia", "bsv",
		},
		"supported_assets": []string{
			"USDC", "USDT", "MNEE",
		},
		"wallet_kinds": []string{
			string(wallet.KindEVM), string(wallet.KindDirect),
		},
	}
}
