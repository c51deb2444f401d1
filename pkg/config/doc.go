// Package config loads rentshelf configuration.
//
// Values are resolved in increasing precedence: built-in defaults, an
// optional YAML file named by RENTSHELF_CONFIG_FILE, then RENTSHELF_*
// environment variables. A dotenv file (RENTSHELF_ENV_FILE, or ./.env when
// present) is loaded into the environment first and never overrides
// variables that are already set.
//
// Server settings:
//
//	RENTSHELF_HOST="0.0.0.0"
//	RENTSHELF_PORT="8080"
//	RENTSHELF_HEALTH_PORT="9090"
//	RENTSHELF_READ_TIMEOUT="15s"
//	RENTSHELF_WRITE_TIMEOUT="15s"
//	RENTSHELF_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	RENTSHELF_POSTGRES_URL="postgres://localhost/rentshelf?sslmode=disable"
//	RENTSHELF_POSTGRES_MAX_CONNS="25"
//	RENTSHELF_AUTO_MIGRATE="true"
//	RENTSHELF_PERMISSION_SEED_FILE="/etc/rentshelf/permissions.yaml"
//	RENTSHELF_REDIS_URL="redis://localhost:6379/0"
//
// Auth and authorization:
//
//	RENTSHELF_JWT_SECRET="<at least 32 characters>"
//	RENTSHELF_TOKEN_TTL="24h"
//	RENTSHELF_BCRYPT_COST="12"
//	RENTSHELF_LOGIN_RATE_PER_MIN="10"
//	RENTSHELF_PERMISSION_CACHE_TTL="30s"
//	RENTSHELF_BOOTSTRAP_ADMIN_USERNAME="admin"
//	RENTSHELF_BOOTSTRAP_ADMIN_EMAIL="admin@example.com"
//	RENTSHELF_BOOTSTRAP_ADMIN_PASSWORD="<secret>"
//
// Rentals:
//
//	RENTSHELF_RENTAL_GRACE_DAYS="7"
//	RENTSHELF_RENTAL_DAILY_FEE="50"
//	RENTSHELF_OVERDUE_SCHEDULE="0 * * * *"
//
// Observability:
//
//	RENTSHELF_LOG_LEVEL="info"
//	RENTSHELF_METRICS_ENABLED="true"
//	RENTSHELF_OTEL_ENABLED="false"
//	RENTSHELF_OTEL_ENDPOINT="localhost:4317"
package config
