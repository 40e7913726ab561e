package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	APIKeys    APIKeyConfig
	Audit      AuditConfig
	Encryption EncryptionConfig
	Exports    ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// APIKeyConfig tunes key issuance and per-key throttling.
type APIKeyConfig struct {
	MaxActivePerUser int
	SecretPrefix     string
	RateLimitWindow  time.Duration
	RateLimitMax     int
}

// AuditConfig tunes the audit write buffer and retention policy.
type AuditConfig struct {
	FlushInterval time.Duration
	BufferMaxSize int
	Retention     time.Duration
	PurgeInterval time.Duration
}

// EncryptionConfig holds key material for at-rest secret encryption.
type EncryptionConfig struct {
	Secret string
}

// ExportConfig tunes the on-disk export archive.
type ExportConfig struct {
	Dir           string
	SigningSecret string
	DownloadTTL   time.Duration
	Retention     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.APIKeys = APIKeyConfig{
		MaxActivePerUser: v.GetInt("APIKEY_MAX_ACTIVE_PER_USER"),
		SecretPrefix:     v.GetString("APIKEY_SECRET_PREFIX"),
		RateLimitWindow:  parseDuration(v.GetString("APIKEY_RATE_LIMIT_WINDOW"), 15*time.Minute),
		RateLimitMax:     v.GetInt("APIKEY_RATE_LIMIT_MAX"),
	}

	cfg.Audit = AuditConfig{
		FlushInterval: parseDuration(v.GetString("AUDIT_FLUSH_INTERVAL"), 2*time.Second),
		BufferMaxSize: v.GetInt("AUDIT_BUFFER_MAX_SIZE"),
		Retention:     parseDuration(v.GetString("AUDIT_RETENTION"), 90*24*time.Hour),
		PurgeInterval: parseDuration(v.GetString("AUDIT_PURGE_INTERVAL"), time.Hour),
	}

	cfg.Encryption = EncryptionConfig{
		Secret: v.GetString("ENCRYPTION_SECRET"),
	}

	cfg.Exports = ExportConfig{
		Dir:           v.GetString("EXPORT_DIR"),
		SigningSecret: v.GetString("EXPORT_SIGNING_SECRET"),
		DownloadTTL:   parseDuration(v.GetString("EXPORT_DOWNLOAD_TTL"), 24*time.Hour),
		Retention:     parseDuration(v.GetString("EXPORT_RETENTION"), 72*time.Hour),
	}
	if cfg.Exports.SigningSecret == "" {
		cfg.Exports.SigningSecret = cfg.JWT.Secret
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "maildoor")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "maildoor")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("APIKEY_MAX_ACTIVE_PER_USER", 25)
	v.SetDefault("APIKEY_SECRET_PREFIX", "mk_live_")
	v.SetDefault("APIKEY_RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("APIKEY_RATE_LIMIT_MAX", 200)

	v.SetDefault("AUDIT_FLUSH_INTERVAL", "2s")
	v.SetDefault("AUDIT_BUFFER_MAX_SIZE", 50)
	v.SetDefault("AUDIT_RETENTION", "2160h")
	v.SetDefault("AUDIT_PURGE_INTERVAL", "1h")

	v.SetDefault("ENCRYPTION_SECRET", "")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
	v.SetDefault("EXPORT_DOWNLOAD_TTL", "24h")
	v.SetDefault("EXPORT_RETENTION", "72h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
