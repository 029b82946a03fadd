package app

import (
	"os"
	"strconv"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Config is the full set of environment-derived settings the service needs
// to boot: database, object storage, quota cache, the prediction provider,
// and the principal JWT secret.
type Config struct {
	LogMode string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string

	StorageBucket        string
	StorageEmulatorHost  string
	StoragePublicBaseURL string

	JWTSecretKey string

	ProviderBaseURL    string
	ProviderAPIToken   string
	ProviderMaxRetries int
	ProviderTimeout    time.Duration

	CallbackBaseURL string
	ListenAddr      string
}

func LoadConfig(log *logger.Logger) Config {
	log.Info("loading environment variables")
	return Config{
		LogMode: getEnv("LOG_MODE", "development", log),

		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=upscale port=5432 sslmode=disable", log),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379", log),
		RedisPassword: getEnv("REDIS_PASSWORD", "", log),

		StorageBucket:        getEnv("STORAGE_BUCKET", "upscale-dev", log),
		StorageEmulatorHost:  getEnv("STORAGE_EMULATOR_HOST", "", log),
		StoragePublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", "", log),

		JWTSecretKey: getEnv("JWT_SECRET_KEY", "defaultsecret", log),

		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.replicate.com/v1", log),
		ProviderAPIToken:   getEnv("PROVIDER_API_TOKEN", "", log),
		ProviderMaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 3, log),
		ProviderTimeout:    time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30, log)) * time.Second,

		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080", log),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080", log),
	}
}

// getEnv/getEnvAsInt mirror the teacher's utils.GetEnv helpers, adapted to
// the platform logger this service standardizes on instead of the
// now-unwired internal/logger the original helpers were written against.
func getEnv(key, defaultVal string, log *logger.Logger) string {
	l := log.With("env_var", key)
	val, ok := os.LookupEnv(key)
	if !ok {
		l.Debug("environment variable not found, using default", "default", defaultVal)
		return defaultVal
	}
	l.Debug("environment variable found, using environment", "value", val)
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	l := log.With("env_var", key)
	raw, ok := os.LookupEnv(key)
	if !ok {
		l.Debug("environment variable not found, using default", "default", defaultVal)
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.Debug("environment variable could not be parsed as int, using default", "providedVal", raw, "defaultVal", defaultVal, "error", err)
		return defaultVal
	}
	return n
}
