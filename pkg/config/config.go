package config

import (
	"errors"
	"io/fs"
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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	SMTP     SMTPConfig
	Email    EmailConfig
	Notice   NoticeConfig
	Exports  ExportsConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
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
	// RunLock enables the cross-process run lock. Off unless REDIS_RUN_LOCK=true.
	RunLock    bool
	RunLockTTL time.Duration
}

// JWTConfig holds the shared secret used to verify operator tokens in serve mode.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// EmailConfig controls recipient policy for every outgoing notice.
type EmailConfig struct {
	From              string
	SummaryRecipients []string
	Excluded          []string
	Disabled          bool
	TestFrom          string
	TestTo            string
}

// TestMode reports whether outgoing mail is redirected to a test mailbox.
func (c EmailConfig) TestMode() bool {
	return c.TestTo != ""
}

// NoticeConfig tunes the notification wording.
type NoticeConfig struct {
	SubjectPrefix string
	Footer        string
}

// ExportsConfig configures where digests and archived crawl files are written.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	Retention       time.Duration
	MaxUploadBytes  int64
}

// QueueConfig configures the serve-mode run queue.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("ENS_SQL_HOST"),
		Port:         v.GetInt("ENS_SQL_PORT"),
		User:         v.GetString("ENS_SQL_USER"),
		Password:     v.GetString("ENS_SQL_PASS"),
		Name:         strings.ToLower(strings.TrimSpace(v.GetString("ENS_SQL_DBNAME"))),
		SSLMode:      v.GetString("ENS_SQL_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:       v.GetString("REDIS_HOST"),
		Port:       v.GetInt("REDIS_PORT"),
		Password:   v.GetString("REDIS_PASSWORD"),
		DB:         v.GetInt("REDIS_DB"),
		RunLock:    v.GetBool("REDIS_RUN_LOCK"),
		RunLockTTL: parseDuration(v.GetString("REDIS_RUN_LOCK_TTL"), 30*time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
	}

	cfg.Email = EmailConfig{
		From:              v.GetString("ENS_FROM_EMAIL"),
		SummaryRecipients: splitAndTrim(v.GetString("ENS_SUMMARY_RECIPIENTS")),
		Excluded:          splitAndTrim(v.GetString("ENS_EMAIL_EXCL")),
		Disabled:          v.GetBool("ENS_EMAIL_DISABLE"),
		TestFrom:          v.GetString("ENS_TEST_FROM_EMAIL"),
		TestTo:            v.GetString("ENS_TEST_TO_EMAIL"),
	}

	cfg.Notice = NoticeConfig{
		SubjectPrefix: v.GetString("NOTICE_SUBJECT_PREFIX"),
		Footer:        v.GetString("NOTICE_FOOTER"),
	}

	maxUpload := v.GetInt64("EXPORTS_MAX_UPLOAD_SIZE")
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		Retention:       parseDuration(v.GetString("EXPORTS_RETENTION"), 30*24*time.Hour),
		MaxUploadBytes:  maxUpload,
	}

	cfg.Queue = QueueConfig{
		Workers:    v.GetInt("QUEUE_WORKERS"),
		BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		MaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
		Path:    v.GetString("METRICS_PATH"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("ENS_SQL_HOST", "localhost")
	v.SetDefault("ENS_SQL_PORT", 5432)
	v.SetDefault("ENS_SQL_USER", "postgres")
	v.SetDefault("ENS_SQL_PASS", "postgres")
	v.SetDefault("ENS_SQL_DBNAME", "edunotice")
	v.SetDefault("ENS_SQL_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_RUN_LOCK", false)
	v.SetDefault("REDIS_RUN_LOCK_TTL", "30m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "edunotice")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")

	v.SetDefault("ENS_FROM_EMAIL", "")
	v.SetDefault("ENS_SUMMARY_RECIPIENTS", "")
	v.SetDefault("ENS_EMAIL_EXCL", "")
	v.SetDefault("ENS_EMAIL_DISABLE", false)
	v.SetDefault("ENS_TEST_FROM_EMAIL", "")
	v.SetDefault("ENS_TEST_TO_EMAIL", "")

	v.SetDefault("NOTICE_SUBJECT_PREFIX", "")
	v.SetDefault("NOTICE_FOOTER", "This automated email notification was sent from the Turing Research Compute Platforms cloud platform.")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_RETENTION", "720h")
	v.SetDefault("EXPORTS_MAX_UPLOAD_SIZE", 10*1024*1024)

	v.SetDefault("QUEUE_WORKERS", 1)
	v.SetDefault("QUEUE_BUFFER_SIZE", 16)
	v.SetDefault("QUEUE_MAX_RETRIES", 0)
	v.SetDefault("QUEUE_RETRY_DELAY", "30s")

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PATH", "/metrics")
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
