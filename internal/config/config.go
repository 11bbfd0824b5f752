package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	ListenAddr        string
	LogLevel          string
	MySQLDSN          string
	AllowedOrigins    []string
	AllowedOriginTail string

	CompletionAPIKey  string
	CompletionBaseURL string
	EnhanceModel      string
	CodeModel         string
	RequestTimeout    time.Duration

	GenerationCost     int
	DefaultCredits     int
	GenerationWorkers  int
	GenerationQueue    int
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RedisURL           string

	StripeSecretKey     string
	StripeWebhookSecret string
	AppID               string
	CheckoutExpiry      time.Duration

	AuthJWTSecret   string
	AuthUpstreamURL string
	AuthCookieName  string

	AdminUsername string
	AdminPassword string

	TelegramBotToken string
	TelegramChatID   int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// PublishingEnabled reports whether published sites are mirrored to object storage.
func (c Config) PublishingEnabled() bool {
	return c.S3Bucket != ""
}

// AdminEnabled reports whether the operator routes are mounted. They stay off until a
// password is configured.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

// NotificationsEnabled reports whether operator notifications go to Telegram.
func (c Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultCompletionBaseURL = "https://openrouter.ai/api/v1"

	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":3000"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "https://buildgen.vercel.app")),
		AllowedOriginTail:   getEnv("ALLOWED_ORIGIN_SUFFIX", ".vercel.app"),
		CompletionBaseURL:   normalizeBaseURL(getEnv("COMPLETION_BASE_URL", defaultCompletionBaseURL), defaultCompletionBaseURL),
		EnhanceModel:        getEnv("ENHANCE_MODEL", "google/gemma-7b-it:free"),
		CodeModel:           getEnv("CODE_MODEL", "meta-llama/llama-3-8b-instruct:free"),
		RequestTimeout:      getDuration("COMPLETION_TIMEOUT", 3*time.Minute),
		GenerationCost:      getInt("GENERATION_COST", 5),
		DefaultCredits:      getInt("DEFAULT_CREDITS", 20),
		GenerationWorkers:   getInt("GENERATION_WORKERS", 4),
		GenerationQueue:     getInt("GENERATION_QUEUE_SIZE", 256),
		RateLimitPerWindow:  getInt("RATE_LIMIT_GENERATIONS", 10),
		RateLimitWindow:     getDuration("RATE_LIMIT_WINDOW", time.Minute),
		RedisURL:            os.Getenv("REDIS_URL"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AppID:               getEnv("APP_ID", "BuildGen"),
		CheckoutExpiry:      getDuration("CHECKOUT_EXPIRY", 30*time.Minute),
		AuthUpstreamURL:     os.Getenv("AUTH_UPSTREAM_URL"),
		AuthCookieName:      getEnv("AUTH_COOKIE_NAME", "session_token"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      getInt64("TELEGRAM_CHAT_ID", 0),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "sites"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.CompletionAPIKey = os.Getenv("OPENROUTER_API_KEY")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.CompletionAPIKey == "" {
		missing = append(missing, "OPENROUTER_API_KEY")
	}
	if cfg.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if cfg.PublishingEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.GenerationCost <= 0 {
		return Config{}, fmt.Errorf("GENERATION_COST must be positive, got %d", cfg.GenerationCost)
	}
	if cfg.GenerationWorkers <= 0 {
		cfg.GenerationWorkers = 1
	}
	if cfg.GenerationQueue <= 0 {
		cfg.GenerationQueue = 1
	}

	return cfg, nil
}

// normalizeBaseURL keeps the scheme and strips the trailing slash so the SDK can append paths.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		host, rest, _ := strings.Cut(parsed.Path, "/")
		parsed.Host = host
		parsed.Path = ""
		if rest != "" {
			parsed.Path = "/" + rest
		}
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads the first env file found. Variables already present in the
// environment win. A missing file is not an error.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
