package config

const EnvPrefix = "NANOPHOTO"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	DefaultSQLiteDSN = "file:nanophoto.db?_busy_timeout=5000&_foreign_keys=on"
)

const (
	EnvAppEnv = "NANOPHOTO_APP_ENV"
	EnvPort   = "NANOPHOTO_APP_PORT"

	EnvDBDSN  = "NANOPHOTO_DB_DSN"
	EnvDBHost = "NANOPHOTO_DB_HOST"
	EnvDBUser = "NANOPHOTO_DB_USER"
	EnvDBName = "NANOPHOTO_DB_NAME"

	EnvRedisURL = "NANOPHOTO_REDIS_URL"

	EnvJWTSecret  = "NANOPHOTO_JWT_SECRET"
	EnvJWTIssuer  = "NANOPHOTO_JWT_ISSUER"
	EnvJWTExpMins = "NANOPHOTO_JWT_EXPIRATION_MINUTES"

	EnvUseSQLite = "NANOPHOTO_USE_SQLITE"

	EnvLedgerMaxAttempts       = "NANOPHOTO_LEDGER_MAX_ATTEMPTS"
	EnvLedgerSignupBonus       = "NANOPHOTO_LEDGER_SIGNUP_BONUS"
	EnvLedgerVerificationBonus = "NANOPHOTO_LEDGER_VERIFICATION_BONUS"

	EnvAdminEmails  = "NANOPHOTO_ADMIN_EMAILS"
	EnvGCPProjectID = "NANOPHOTO_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
