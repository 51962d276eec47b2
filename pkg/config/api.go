package config

import "time"

// ArchiveConfig points at the object store used to keep submitted manifests.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint was configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Endpoint != ""
}

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	Store              string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	MaxManifestBytes   int64
	ShutdownTimeout    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	Archive            ArchiveConfig
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		Store:              GetString("STORE", "postgres"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://axon:axon@db:5432/axon?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:          GetString("JWT_SECRET", ""),
		MaxManifestBytes:   int64(GetInt("MAX_MANIFEST_KB", 1024)) * 1024,
		ShutdownTimeout:    GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		Archive: ArchiveConfig{
			Endpoint:  GetString("ARCHIVE_ENDPOINT", ""),
			AccessKey: GetString("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: GetString("ARCHIVE_SECRET_KEY", ""),
			Bucket:    GetString("ARCHIVE_BUCKET", "axon-manifests"),
			Region:    GetString("ARCHIVE_REGION", ""),
			UseSSL:    GetBool("ARCHIVE_USE_SSL", false),
		},
	}
}
