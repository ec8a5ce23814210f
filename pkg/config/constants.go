package config

// EnvPrefix is passed to envconfig; every variable already spells the DOT_
// prefix explicitly so the prefix itself stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "DOT_DB_DSN"
	EnvDBHost = "DOT_DB_HOST"
	EnvDBUser = "DOT_DB_USER"
	EnvDBName = "DOT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
