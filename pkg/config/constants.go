package config

// EnvPrefix is passed to envconfig; every field also carries its full variable name.
const EnvPrefix = "CARTRESERVE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "CARTRESERVE_APP_ENV"
	EnvPort      = "CARTRESERVE_APP_PORT"
	EnvLogLevel  = "CARTRESERVE_LOG_LEVEL"
	EnvLogFormat = "CARTRESERVE_LOG_FORMAT"
	EnvDBDSN     = "CARTRESERVE_DB_DSN"
	EnvDBHost    = "CARTRESERVE_DB_HOST"
	EnvDBUser    = "CARTRESERVE_DB_USER"
	EnvDBName    = "CARTRESERVE_DB_NAME"
	EnvRedisURL  = "CARTRESERVE_REDIS_URL"
	EnvJWTSecret = "CARTRESERVE_JWT_SECRET"
	EnvJWTIssuer = "CARTRESERVE_JWT_ISSUER"
	EnvJWTLeeway = "CARTRESERVE_JWT_LEEWAY"

	EnvCartCurrency       = "CARTRESERVE_CART_CURRENCY"
	EnvCartTaxRate        = "CARTRESERVE_CART_TAX_RATE"
	EnvCartGuestRetention = "CARTRESERVE_CART_GUEST_RETENTION"
	EnvCronInterval       = "CARTRESERVE_CRON_INTERVAL"
	EnvCronDLQRetention   = "CARTRESERVE_CRON_DLQ_RETENTION"
	EnvGCPProjectID       = "CARTRESERVE_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
