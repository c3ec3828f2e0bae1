package config

const (
	EnvPrefix = "MARKETCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETCORE_APP_ENV"
	EnvPort     = "MARKETCORE_APP_PORT"
	EnvLogLevel = "MARKETCORE_LOG_LEVEL"

	EnvDBDSN  = "MARKETCORE_DB_DSN"
	EnvDBHost = "MARKETCORE_DB_HOST"
	EnvDBUser = "MARKETCORE_DB_USER"
	EnvDBName = "MARKETCORE_DB_NAME"

	EnvRedisURL = "MARKETCORE_REDIS_URL"

	EnvUseSQLite   = "MARKETCORE_USE_SQLITE"
	EnvAutoMigrate = "MARKETCORE_AUTO_MIGRATE"

	EnvCheckoutCurrency   = "MARKETCORE_CHECKOUT_CURRENCY"
	EnvCheckoutFeeFlat    = "MARKETCORE_CHECKOUT_FEE_FLAT"
	EnvCheckoutFeePercent = "MARKETCORE_CHECKOUT_FEE_PERCENT"

	EnvSettlementBatchSize = "MARKETCORE_SETTLEMENT_BATCH_SIZE"
	EnvLoyaltyTiers        = "MARKETCORE_LOYALTY_TIERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
