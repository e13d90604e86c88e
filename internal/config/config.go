package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultSpaceID    = "daniblack1/Hair-Trainer-2025"
	defaultTypeformID = "01K4T4CR7PWM5WCCH8KKPW1K5F"
	defaultMaxMB      = 8
)

// Config holds the runtime settings of the page host.
type Config struct {
	HTTPAddr string
	LogLevel string

	// SpaceID is the endpoint namespace: a Hugging Face Space id
	// ("owner/name") or a direct Gradio base URL.
	SpaceID   string
	HubURL    string
	HFToken   string
	FormID    string
	MaxMB     int
	Timeout   time.Duration
	RedisAddr string

	SessionTTL time.Duration
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxMB) * 1024 * 1024
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		SpaceID:   getEnv("SPACE_ID", defaultSpaceID),
		HubURL:    strings.TrimRight(getEnv("HF_HUB_URL", "https://huggingface.co"), "/"),
		HFToken:   os.Getenv("HF_TOKEN"),
		FormID:    getEnv("TYPEFORM_ID", defaultTypeformID),
		RedisAddr: os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.MaxMB, err = getInt("MAX_UPLOAD_MB", defaultMaxMB); err != nil {
		return nil, err
	}
	if cfg.MaxMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", cfg.MaxMB)
	}
	if cfg.Timeout, err = getDuration("PREDICT_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
