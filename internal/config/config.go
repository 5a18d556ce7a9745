package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

// Config aggregates runtime configuration for the relay.
type Config struct {
	App          AppConfig
	Logger       LoggerConfig
	Graph        GraphConfig
	Notion       NotionConfig
	Approval     ApprovalConfig
	Webhook      WebhookConfig
	Tickets      TicketConfig
	Subscription SubscriptionConfig
	Poller       PollerConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"teams-ticket-relay"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8000"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// GraphConfig holds identity-provider credentials and Graph client tuning.
type GraphConfig struct {
	ClientID                string `env:"MICROSOFT_CLIENT_ID"`
	ClientSecret            string `env:"MICROSOFT_CLIENT_SECRET"`
	TenantID                string `env:"MICROSOFT_TENANT_ID"`
	BaseURL                 string `env:"GRAPH_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`
	TokenURL                string `env:"GRAPH_TOKEN_URL"`
	TimeoutSeconds          int    `env:"OUTBOUND_TIMEOUT_SECONDS" envDefault:"30"`
	MaxConns                int    `env:"OUTBOUND_MAX_CONNS" envDefault:"10"`
	CreateMaxAttempts       int    `env:"SUBSCRIPTION_CREATE_MAX_ATTEMPTS" envDefault:"5"`
	CreateInitialDelayMilli int    `env:"SUBSCRIPTION_CREATE_INITIAL_DELAY_MS" envDefault:"1000"`
}

// NotionConfig holds ticket store credentials.
type NotionConfig struct {
	APIToken   string `env:"NOTION_API_TOKEN"`
	DatabaseID string `env:"NOTION_DATABASE_ID"`
	BaseURL    string `env:"NOTION_BASE_URL" envDefault:"https://api.notion.com/v1"`
	Version    string `env:"NOTION_VERSION" envDefault:"2022-06-28"`
}

// ApprovalConfig defines who may approve and with which reaction.
type ApprovalConfig struct {
	AllowedUsers []string `env:"ALLOWED_USERS" envSeparator:","`
	Reaction     string   `env:"APPROVAL_REACTION" envDefault:"🎫"`
}

// WebhookConfig describes the public callback surface.
type WebhookConfig struct {
	NotificationURL string `env:"WEBHOOK_NOTIFICATION_URL"`
	ClientState     string `env:"WEBHOOK_CLIENT_STATE"`
	AsyncProcessing bool   `env:"WEBHOOK_ASYNC_PROCESSING" envDefault:"true"`
}

// TicketConfig holds default ticket field values.
type TicketConfig struct {
	DefaultStatus string `env:"DEFAULT_TICKET_STATUS" envDefault:"New"`
	Source        string `env:"TICKET_SOURCE" envDefault:"Teams"`
}

// SubscriptionConfig controls the default subscription and auto-renewal.
type SubscriptionConfig struct {
	DefaultResource       string  `env:"DEFAULT_SUBSCRIPTION_RESOURCE"`
	DefaultExpirationDays float64 `env:"DEFAULT_SUBSCRIPTION_EXPIRATION_DAYS" envDefault:"0.04"`
	AutoRenew             bool    `env:"AUTO_RENEW_SUBSCRIPTIONS" envDefault:"true"`
	CheckIntervalSeconds  int     `env:"RENEWAL_CHECK_INTERVAL_SECONDS" envDefault:"300"`
}

// PollerConfig tunes the reaction poller.
type PollerConfig struct {
	IntervalSeconds  int `env:"REACTION_POLL_INTERVAL_SECONDS" envDefault:"30"`
	RetentionSeconds int `env:"REACTION_POLL_RETENTION_SECONDS" envDefault:"300"`
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"teams-relay"`
}

// AuthConfig defines management API authentication. An empty secret leaves it open.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
}

// NotificationConfig holds the optional outbound event webhook.
type NotificationConfig struct {
	WebhookURL string `env:"NOTIFY_WEBHOOK_URL"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("parse environment: %v", err), nil)
	}
	cfg.Approval.AllowedUsers = NormalizeEmails(cfg.Approval.AllowedUsers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing core credentials as a ConfigError.
func (c *Config) Validate() error {
	required := map[string]string{
		"MICROSOFT_CLIENT_ID":      c.Graph.ClientID,
		"MICROSOFT_CLIENT_SECRET":  c.Graph.ClientSecret,
		"MICROSOFT_TENANT_ID":      c.Graph.TenantID,
		"NOTION_API_TOKEN":         c.Notion.APIToken,
		"NOTION_DATABASE_ID":       c.Notion.DatabaseID,
		"WEBHOOK_NOTIFICATION_URL": c.Webhook.NotificationURL,
		"WEBHOOK_CLIENT_STATE":     c.Webhook.ClientState,
	}
	missing := make([]string, 0)
	for key, val := range required {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(c.Approval.AllowedUsers) == 0 {
		missing = append(missing, "ALLOWED_USERS")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperrors.NewConfigError("missing required configuration", map[string]any{"missing": missing})
	}
	return nil
}

// NormalizeEmails trims, lower-cases and drops empty entries.
func NormalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, email := range in {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			out = append(out, email)
		}
	}
	return out
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ResolvedTokenURL returns the client-credentials endpoint for the tenant.
func (g GraphConfig) ResolvedTokenURL() string {
	if g.TokenURL != "" {
		return g.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", g.TenantID)
}

// Timeout returns the per-call outbound timeout.
func (g GraphConfig) Timeout() time.Duration {
	return secondsOr(g.TimeoutSeconds, 30)
}

// CreateInitialDelay returns the first retry delay for subscription creation.
func (g GraphConfig) CreateInitialDelay() time.Duration {
	if g.CreateInitialDelayMilli <= 0 {
		return time.Second
	}
	return time.Duration(g.CreateInitialDelayMilli) * time.Millisecond
}

// CheckInterval returns the renewal monitor interval.
func (s SubscriptionConfig) CheckInterval() time.Duration {
	return secondsOr(s.CheckIntervalSeconds, 300)
}

// Interval returns the reaction poll interval.
func (p PollerConfig) Interval() time.Duration {
	return secondsOr(p.IntervalSeconds, 30)
}

// Retention returns how long a message stays tracked.
func (p PollerConfig) Retention() time.Duration {
	return secondsOr(p.RetentionSeconds, 300)
}

// Enabled reports whether Redis should be used.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// BaseURL strips the notification path from the public webhook URL.
func (w WebhookConfig) BaseURL() string {
	base := strings.TrimRight(w.NotificationURL, "/")
	return strings.TrimSuffix(base, "/webhook/notification")
}

func secondsOr(val, fallback int) time.Duration {
	if val <= 0 {
		val = fallback
	}
	return time.Duration(val) * time.Second
}
