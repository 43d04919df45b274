package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/mneepay/checkout/types"
)

type Config struct {
	App      AppConfig
	Checkout CheckoutConfig
	Chains   ChainsConfig
	Redis    RedisConfig
	Merchant MerchantConfig
	Metrics  MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Merchant.BackendURL == "" {
		cfg.Merchant.BackendURL = cfg.Checkout.APIBase
	}
	return &cfg, nil
}

type AppConfig struct {
	Env      string `envconfig:"MNEEPAY_APP_ENV" default:"dev"`
	Port     string `envconfig:"MNEEPAY_APP_PORT" default:"8080"`
	LogLevel string `envconfig:"MNEEPAY_LOG_LEVEL" default:"info"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type CheckoutConfig struct {
	APIBase         string        `envconfig:"MNEEPAY_API_BASE" required:"true"`
	Timeout         time.Duration `envconfig:"MNEEPAY_TIMEOUT" default:"30s"`
	PollInterval    time.Duration `envconfig:"MNEEPAY_POLL_INTERVAL" default:"3s"`
	MaxPollAttempts int           `envconfig:"MNEEPAY_MAX_POLL_ATTEMPTS" default:"200"`
}

// ChainsConfig holds one optional RPC endpoint per EVM network.
type ChainsConfig struct {
	EthereumRPCURL string `envconfig:"MNEEPAY_ETHEREUM_RPC_URL"`
	BaseRPCURL     string `envconfig:"MNEEPAY_BASE_RPC_URL"`
	PolygonRPCURL  string `envconfig:"MNEEPAY_POLYGON_RPC_URL"`
	ArbitrumRPCURL string `envconfig:"MNEEPAY_ARBITRUM_RPC_URL"`
	OptimismRPCURL string `envconfig:"MNEEPAY_OPTIMISM_RPC_URL"`
}

func (c ChainsConfig) byNetwork() map[types.Network]string {
	return map[types.Network]string{
		types.NetworkEthereum: c.EthereumRPCURL,
		types.NetworkBase:     c.BaseRPCURL,
		types.NetworkPolygon:  c.PolygonRPCURL,
		types.NetworkArbitrum: c.ArbitrumRPCURL,
		types.NetworkOptimism: c.OptimismRPCURL,
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"MNEEPAY_REDIS_URL"`
	Address      string        `envconfig:"MNEEPAY_REDIS_ADDR"`
	Password     string        `envconfig:"MNEEPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"MNEEPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MNEEPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MNEEPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MNEEPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MNEEPAY_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"MNEEPAY_REDIS_WRITE_TIMEOUT" default:"3s"`
	CartTTL      time.Duration `envconfig:"MNEEPAY_CART_TTL" default:"720h"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

// Options builds go-redis options, letting an explicit URL win over the
// address fields.
func (r RedisConfig) Options() (*redis.Options, error) {
	if !r.Enabled() {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if r.URL != "" {
		parsed, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     r.Address,
			Password: r.Password,
			DB:       r.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = r.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = r.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = r.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = r.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = r.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = r.WriteTimeout
	}
	return opts, nil
}

type MerchantConfig struct {
	APIKey        string `envconfig:"MNEEPAY_MERCHANT_API_KEY"`
	WebhookSecret string `envconfig:"MNEEPAY_WEBHOOK_SECRET"`
	// BackendURL defaults to the checkout API base.
	BackendURL string `envconfig:"MNEEPAY_MERCHANT_BACKEND_URL"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"MNEEPAY_METRICS_ENABLED" default:"true"`
	Path    string `envconfig:"MNEEPAY_METRICS_PATH" default:"/metrics"`
}

// ToCheckoutConfig converts the environment into the library configuration.
// Networks without an RPC endpoint are left out of Chains.
func (c *Config) ToCheckoutConfig() types.Config {
	out := types.Config{
		APIBase:         c.Checkout.APIBase,
		DefaultTimeout:  c.Checkout.Timeout,
		PollInterval:    c.Checkout.PollInterval,
		MaxPollAttempts: c.Checkout.MaxPollAttempts,
		LogLevel:        strings.ToLower(c.App.LogLevel),
		EnableMetrics:   c.Metrics.Enabled,
	}
	for network, rpc := range c.Chains.byNetwork() {
		if rpc == "" {
			continue
		}
		if out.Chains == nil {
			out.Chains = make(map[types.Network]types.ChainConfig)
		}
		out.Chains[network] = types.ChainConfig{Network: network, RPCURL: rpc, Timeout: c.Checkout.Timeout}
	}
	return out.WithDefaults()
}
