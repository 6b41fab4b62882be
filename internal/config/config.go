package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DefaultOrgID int64

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	AI         AIConfig
	Billing    BillingConfig
	Automation AutomationConfig
	Email      EmailConfig
	Slack      SlackConfig
	RateLimit  RateLimitConfig
}

// AIConfig selects and credentials the AI provider. The implementation is
// picked once at wiring time; business logic never branches on the name.
type AIConfig struct {
	Provider    string // openai | anthropic
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64

	// Provider list prices per 1K tokens, in micro-units of the wallet
	// currency ($0.0025/1K => 2500).
	InputCostPer1KMicros  int64
	OutputCostPer1KMicros int64
}

// BillingConfig holds metering defaults. Organizations may override the
// markup through their automation settings.
type BillingConfig struct {
	Currency                  string
	Markup                    string // decimal string, e.g. "1.30"
	StarterBalanceMicros      int64
	LowBalanceThresholdMicros int64
}

// AutomationConfig holds org-overridable evaluation defaults.
type AutomationConfig struct {
	ConfidenceThreshold    float64
	KeywordMatchType       string // ANY | ALL
	ReplyDelayMaxSeconds   int
	ProviderRetryBackoffMs int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SlackConfig struct {
	WebhookURL string
}

// RateLimitConfig gates message ingestion. Disabled by default; when
// enabled it needs a reachable redis.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OrgRate      float64
	OrgBurst     int
	ContactRate  float64
	ContactBurst int

	ConversationLockTTLSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "charla"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		DefaultOrgID: getenvInt64("DEFAULT_ORG", 0),

		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OtelExporterProtocol: strings.ToLower(getenv("OTEL_EXPORTER_PROTOCOL", "grpc")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "charla"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		AI: AIConfig{
			Provider:              strings.ToLower(getenv("AI_PROVIDER", "openai")),
			APIKey:                strings.TrimSpace(getenv("AI_API_KEY", "")),
			Model:                 getenv("AI_MODEL", "gpt-4o-mini"),
			MaxTokens:             getenvInt("AI_MAX_TOKENS", 1024),
			Temperature:           getenvFloat("AI_TEMPERATURE", 0.2),
			InputCostPer1KMicros:  getenvInt64("AI_INPUT_COST_PER_1K_MICROS", 150),
			OutputCostPer1KMicros: getenvInt64("AI_OUTPUT_COST_PER_1K_MICROS", 600),
		},
		Billing: BillingConfig{
			Currency:                  getenv("BILLING_CURRENCY", "USD"),
			Markup:                    getenv("BILLING_MARKUP", "1.30"),
			StarterBalanceMicros:      getenvInt64("BILLING_STARTER_BALANCE_MICROS", 5_000_000),
			LowBalanceThresholdMicros: getenvInt64("BILLING_LOW_BALANCE_THRESHOLD_MICROS", 1_000_000),
		},
		Automation: AutomationConfig{
			ConfidenceThreshold:    getenvFloat("AUTOMATION_CONFIDENCE_THRESHOLD", 0.7),
			KeywordMatchType:       strings.ToUpper(getenv("AUTOMATION_KEYWORD_MATCH_TYPE", "ANY")),
			ReplyDelayMaxSeconds:   getenvInt("AUTOMATION_REPLY_DELAY_MAX_SECONDS", 300),
			ProviderRetryBackoffMs: getenvInt("AUTOMATION_PROVIDER_RETRY_BACKOFF_MS", 500),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@charla.chat"),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:                    getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:                  getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379"),
			RedisPassword:              getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:                    getenvInt("RATE_LIMIT_REDIS_DB", 0),
			OrgRate:                    getenvFloat("RATE_LIMIT_ORG_RATE", 50),
			OrgBurst:                   getenvInt("RATE_LIMIT_ORG_BURST", 100),
			ContactRate:                getenvFloat("RATE_LIMIT_CONTACT_RATE", 1),
			ContactBurst:               getenvInt("RATE_LIMIT_CONTACT_BURST", 5),
			ConversationLockTTLSeconds: getenvInt("RATE_LIMIT_CONVERSATION_LOCK_TTL_SECONDS", 30),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
