package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	StagingRoot        string
	DeployDomain       string
	CleanupDelay       time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	SSEHeartbeat       time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sitedrop:sitedrop@db:5432/sitedrop?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		StagingRoot:        GetString("STAGING_ROOT", "/tmp/sitedrop-staging"),
		DeployDomain:       GetString("DEPLOY_DOMAIN", "sitedrop.app"),
		CleanupDelay:       time.Duration(GetInt("CLEANUP_DELAY_SECONDS", 5)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		SSEHeartbeat:       time.Duration(GetInt("SSE_HEARTBEAT_SECONDS", 25)) * time.Second,
	}
}
