package config

const EnvPrefix = "MNEEPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MNEEPAY_APP_ENV"
	EnvPort     = "MNEEPAY_APP_PORT"
	EnvLogLevel = "MNEEPAY_LOG_LEVEL"

	EnvAPIBase         = "MNEEPAY_API_BASE"
	EnvTimeout         = "MNEEPAY_TIMEOUT"
	EnvPollInterval    = "MNEEPAY_POLL_INTERVAL"
	EnvMaxPollAttempts = "MNEEPAY_MAX_POLL_ATTEMPTS"

	EnvRedisURL          = "MNEEPAY_REDIS_URL"
	EnvRedisAddr         = "MNEEPAY_REDIS_ADDR"
	EnvRedisPassword     = "MNEEPAY_REDIS_PASSWORD"
	EnvRedisDB           = "MNEEPAY_REDIS_DB"
	EnvRedisPoolSize     = "MNEEPAY_REDIS_POOL_SIZE"
	EnvRedisMinIdleConns = "MNEEPAY_REDIS_MIN_IDLE_CONNS"
	EnvRedisDialTimeout  = "MNEEPAY_REDIS_DIAL_TIMEOUT"
	EnvRedisReadTimeout  = "MNEEPAY_REDIS_READ_TIMEOUT"
	EnvRedisWriteTimeout = "MNEEPAY_REDIS_WRITE_TIMEOUT"
	EnvCartTTL           = "MNEEPAY_CART_TTL"

	EnvMerchantAPIKey  = "MNEEPAY_MERCHANT_API_KEY"
	EnvWebhookSecret   = "MNEEPAY_WEBHOOK_SECRET"
	EnvMerchantBackend = "MNEEPAY_MERCHANT_BACKEND_URL"

	EnvMetricsEnabled = "MNEEPAY_METRICS_ENABLED"
	EnvMetricsPath    = "MNEEPAY_METRICS_PATH"

	EnvEthereumRPC = "MNEEPAY_ETHEREUM_RPC_URL"
	EnvBaseRPC     = "MNEEPAY_BASE_RPC_URL"
	EnvPolygonRPC  = "MNEEPAY_POLYGON_RPC_URL"
	EnvArbitrumRPC = "MNEEPAY_ARBITRUM_RPC_URL"
	EnvOptimismRPC = "MNEEPAY_OPTIMISM_RPC_URL"
)
