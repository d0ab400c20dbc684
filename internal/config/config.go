package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string
	// ChannelID is the gated channel the sweeper enforces access to.
	ChannelID int64
	AdminIDs  []int64

	PostgresDSN   string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	TerminalKey        string
	TerminalPassword   string
	GatewayBaseURL     string
	GatewayBearerToken string

	WebhookAddr     string
	WebhookPath     string
	NotificationURL string

	SweepHour int
	Timezone  string

	TrialDays        int
	AutoRenewDefault bool
	PriceKopeks      int64
	PendingTTLHours  int

	Debug bool
}

// Load reads config.env if present (existing env vars win) and builds
// the typed config. Only the bot token and terminal credentials are
// hard requirements; everything else has a sane default.
func Load(envFile string) (*Config, error) {
	if strings.TrimSpace(envFile) != "" {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{
		BotToken:           strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		ChannelID:          getEnvInt64("CHANNEL_ID", 0),
		AdminIDs:           getEnvInt64List("ADMIN_IDS"),
		PostgresDSN:        strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		TerminalKey:        strings.TrimSpace(os.Getenv("TERMINAL_KEY")),
		TerminalPassword:   os.Getenv("TERMINAL_PASSWORD"),
		GatewayBaseURL:     strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL")),
		GatewayBearerToken: strings.TrimSpace(os.Getenv("GATEWAY_BEARER_TOKEN")),
		WebhookAddr:        getEnv("WEBHOOK_ADDR", ":8080"),
		WebhookPath:        getEnv("WEBHOOK_PATH", "/payment/notify"),
		NotificationURL:    strings.TrimSpace(os.Getenv("NOTIFICATION_URL")),
		SweepHour:          getEnvInt("SWEEP_HOUR", 12),
		Timezone:           getEnv("TIMEZONE", "Europe/Moscow"),
		TrialDays:          getEnvInt("TRIAL_DAYS", 3),
		AutoRenewDefault:   getEnvBool("AUTO_RENEW_DEFAULT", false),
		PriceKopeks:        getEnvInt64("SUB_PRICE_KOPEKS", 50000),
		PendingTTLHours:    getEnvInt("PENDING_TTL_HOURS", 24),
		Debug:              getEnvBool("DEBUG", false),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.ChannelID == 0 {
		return nil, fmt.Errorf("CHANNEL_ID is required")
	}
	if cfg.SweepHour < 0 || cfg.SweepHour > 23 {
		return nil, fmt.Errorf("SWEEP_HOUR must be 0-23, got %d", cfg.SweepHour)
	}
	return cfg, nil
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getEnvInt64List(name string) []int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	return ids
}
