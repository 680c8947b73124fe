package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DefaultBaseURL = "http://localhost:8000"

	IdentityBackendFile   = "file"
	IdentityBackendMemory = "memory"
	IdentityBackendRedis  = "redis"
)

const (
	EnvAppEnv          = "STOREFRONT_APP_ENV"
	EnvLogLevel        = "STOREFRONT_LOG_LEVEL"
	EnvLogFormat       = "STOREFRONT_LOG_FORMAT"
	EnvAPIBaseURL      = "STOREFRONT_API_BASE_URL"
	EnvAPITimeout      = "STOREFRONT_API_TIMEOUT"
	EnvAuthTimeout     = "STOREFRONT_AUTH_TIMEOUT"
	EnvReadDedupWindow = "STOREFRONT_READ_DEDUP_WINDOW"
	EnvReadRetries     = "STOREFRONT_READ_RETRIES"
	EnvReadRetryDelay  = "STOREFRONT_READ_RETRY_DELAY"
	EnvIdentityBackend = "STOREFRONT_IDENTITY_BACKEND"
	EnvIdentityFile    = "STOREFRONT_IDENTITY_FILE"
	EnvIdentityProfile = "STOREFRONT_IDENTITY_PROFILE"
	EnvSessionPrefix   = "STOREFRONT_SESSION_PREFIX"
	EnvRedisURL        = "STOREFRONT_REDIS_URL"
	EnvRedisAddr       = "STOREFRONT_REDIS_ADDR"
	EnvMetricsEnabled  = "STOREFRONT_METRICS_ENABLED"
)
