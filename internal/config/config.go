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

// Config aggregates runtime configuration for the server and supporting services.
type Config struct {
	ListenAddr            string
	MySQLDSN              string
	EdgeBaseURL           string
	EdgeAPIKey            string
	GeminiAPIKey          string
	GeminiModel           string
	PromptProvider        string
	RequestTimeout        time.Duration
	NewUserCredits        int
	GuestCredits          int
	MaxReferenceImages    int
	RetryMaxAttempts      int
	PaymentWebhookSecret  string
	DefaultPackageTitle   string
	DefaultPackagePrice   int
	DefaultPackageCredits int
	PaymentCurrency       string
	S3Endpoint            string
	S3Region              string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3PublicBaseURL       string
	S3UsePathStyle        bool
	S3Prefix              string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		EdgeBaseURL:           normalizeBaseURL(getEnv("EDGE_BASE_URL", "")),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		PromptProvider:        strings.ToLower(getEnv("PROMPT_PROVIDER", "edge")),
		RequestTimeout:        time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		NewUserCredits:        getInt("NEW_USER_CREDITS", 15),
		GuestCredits:          getInt("GUEST_CREDITS", 2),
		MaxReferenceImages:    getInt("MAX_REFERENCE_IMAGES", 5),
		RetryMaxAttempts:      getInt("RETRY_MAX_ATTEMPTS", 3),
		DefaultPackageTitle:   getEnv("DEFAULT_PACKAGE_TITLE", "Starter Pack"),
		DefaultPackagePrice:   getInt("DEFAULT_PACKAGE_PRICE_MINOR_UNITS", 999),
		DefaultPackageCredits: getInt("DEFAULT_PACKAGE_CREDITS", 50),
		PaymentCurrency:       getEnv("PAYMENT_CURRENCY", "USD"),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              os.Getenv("S3_REGION"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:        getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:              getEnv("S3_PREFIX", "artifacts"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.EdgeAPIKey = os.Getenv("EDGE_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.PaymentWebhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.EdgeBaseURL == "" {
		missing = append(missing, "EDGE_BASE_URL")
	}
	if cfg.EdgeAPIKey == "" {
		missing = append(missing, "EDGE_API_KEY")
	}
	if cfg.PromptProvider == "gemini" && cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if cfg.PaymentWebhookSecret == "" {
		missing = append(missing, "PAYMENT_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.PromptProvider != "edge" && cfg.PromptProvider != "gemini" {
		return Config{}, fmt.Errorf("unknown PROMPT_PROVIDER: %s", cfg.PromptProvider)
	}

	// S3 mirroring is optional, but when any of its settings is present the
	// whole group must be.
	if cfg.S3Bucket != "" || cfg.S3AccessKey != "" || cfg.S3SecretKey != "" {
		var s3Missing []string
		if cfg.S3Region == "" {
			s3Missing = append(s3Missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			s3Missing = append(s3Missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			s3Missing = append(s3Missing, "S3_SECRET_KEY")
		}
		if cfg.S3Bucket == "" {
			s3Missing = append(s3Missing, "S3_BUCKET")
		}
		if cfg.S3PublicBaseURL == "" {
			s3Missing = append(s3Missing, "S3_PUBLIC_BASE_URL")
		}
		if len(s3Missing) > 0 {
			return Config{}, fmt.Errorf("incomplete S3 configuration, missing: %v", s3Missing)
		}
	}

	return cfg, nil
}

// MirrorEnabled reports whether generated images should be re-uploaded to S3.
func (c Config) MirrorEnabled() bool {
	return c.S3Bucket != ""
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
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
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely on real environment variables is fine.
	return nil
}
