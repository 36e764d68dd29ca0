package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingSecret is returned by Validate when a required secret is unset.
var ErrMissingSecret = errors.New("missing required secret")

// APIConfig describes the project-tracking API being polled.
type APIConfig struct {
	// BaseURL is the root URL of the tracker API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// ProjectsPath is the path of the project listing endpoint.
	ProjectsPath string `mapstructure:"projects_path" yaml:"projects_path"`

	Page     int `mapstructure:"page" yaml:"page"`
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// UserAgent is sent on every API request.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// IdentityConfig describes the identity provider's magic-link endpoints.
type IdentityConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	LoginPath    string `mapstructure:"login_path" yaml:"login_path"`
	ExchangePath string `mapstructure:"exchange_path" yaml:"exchange_path"`

	// Email is the account address the login link is sent to.
	Email string `mapstructure:"email" yaml:"email"`

	// CallbackURL is forwarded in the login trigger payload.
	CallbackURL string `mapstructure:"callback_url" yaml:"callback_url"`

	// AllowTokenFallback permits using the verification token directly as
	// the access credential when the exchange call fails. Every use is
	// logged and alerted.
	AllowTokenFallback bool `mapstructure:"allow_token_fallback" yaml:"allow_token_fallback"`
}

// MailboxConfig holds IMAP settings and the search used to find login mail.
type MailboxConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Folder   string `mapstructure:"folder" yaml:"folder"`

	// Sender restricts the search to messages from this address.
	Sender string `mapstructure:"sender" yaml:"sender"`

	// Subject optionally restricts the search by subject substring.
	Subject string `mapstructure:"subject" yaml:"subject"`

	// LinkPattern is a regular expression with one capture group that
	// yields the verification token.
	LinkPattern string `mapstructure:"link_pattern" yaml:"link_pattern"`
}

// RefreshConfig controls how long re-authentication waits for login mail.
type RefreshConfig struct {
	InitialDelaySec int `mapstructure:"initial_delay_sec" yaml:"initial_delay_sec"`
	MaxDelaySec     int `mapstructure:"max_delay_sec" yaml:"max_delay_sec"`
	DeadlineSec     int `mapstructure:"deadline_sec" yaml:"deadline_sec"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string `mapstructure:"token" yaml:"token"`
	ChatID    string `mapstructure:"chat_id" yaml:"chat_id"`
	ParseMode string `mapstructure:"parse_mode" yaml:"parse_mode"`

	// MessagesPerMinute caps outbound messages to a single chat.
	MessagesPerMinute int `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`

	// BreakerFailures is the consecutive failure count that opens the
	// circuit breaker.
	BreakerFailures int `mapstructure:"breaker_failures" yaml:"breaker_failures"`
}

// SMTPConfig holds SMTP settings for email notifications.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	To       string `mapstructure:"to" yaml:"to"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// NotifyConfig groups the notification channels. A channel with no
// credentials configured is disabled.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	SMTP     SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// CredentialBackend is "keyring" or "sqlite".
	CredentialBackend string `mapstructure:"credential_backend" yaml:"credential_backend"`

	// KeyringDir is used by the encrypted file keyring backend.
	KeyringDir string `mapstructure:"keyring_dir" yaml:"keyring_dir"`
}

// PollConfig controls the long-running loop.
type PollConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration. It is built once
// at startup and handed to each component.
type AppConfig struct {
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Refresh  RefreshConfig  `mapstructure:"refresh" yaml:"refresh"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Poll     PollConfig     `mapstructure:"poll" yaml:"poll"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`

	// SeedToken is the externally supplied credential used until a
	// refreshed one has been persisted.
	SeedToken string `mapstructure:"seed_token" yaml:"seed_token"`
}

// DefaultLinkPattern matches the magic link sent by the identity provider.
const DefaultLinkPattern = `https://dreamliner\.scaler\.com/auth/verify\?token=([a-zA-Z0-9_\-\.]+)`

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskwatch/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "taskwatch")
}

// envBindings maps config keys to the environment variables the original
// deployment used. TASKWATCH_* variables are bound automatically as well.
var envBindings = map[string]string{
	"mailbox.username":        "GMAIL_USER",
	"mailbox.password":        "GMAIL_PASSWORD",
	"identity.email":          "GMAIL_USER",
	"notify.telegram.token":   "TELEGRAM_TOKEN",
	"notify.telegram.chat_id": "TELEGRAM_CHAT_ID",
	"seed_token":              "SCALER_AUTH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.dreamliner.scaler.com")
	v.SetDefault("api.projects_path", "/v1/projects")
	v.SetDefault("api.page", 1)
	v.SetDefault("api.page_size", 8)
	v.SetDefault("api.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("api.timeout_sec", 30)

	v.SetDefault("identity.base_url", "https://api.dreamliner.scaler.com")
	v.SetDefault("identity.login_path", "/v1/auth/login/magic-link")
	v.SetDefault("identity.exchange_path", "/v1/auth/magic-link/verify")
	v.SetDefault("identity.callback_url", "https://dreamliner.scaler.com/auth/verify")
	v.SetDefault("identity.allow_token_fallback", true)

	v.SetDefault("mailbox.host", "imap.gmail.com")
	v.SetDefault("mailbox.port", "993")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.sender", "noreply@dreamliner.scaler.com")
	v.SetDefault("mailbox.link_pattern", DefaultLinkPattern)

	v.SetDefault("refresh.initial_delay_sec", 5)
	v.SetDefault("refresh.max_delay_sec", 30)
	v.SetDefault("refresh.deadline_sec", 120)

	v.SetDefault("notify.telegram.parse_mode", "Markdown")
	v.SetDefault("notify.telegram.messages_per_minute", 20)
	v.SetDefault("notify.telegram.breaker_failures", 5)
	v.SetDefault("notify.smtp.port", "587")

	v.SetDefault("storage.db_path", filepath.Join(configDir(), "taskwatch.db"))
	v.SetDefault("storage.credential_backend", "keyring")
	v.SetDefault("storage.keyring_dir", filepath.Join(configDir(), "credentials"))

	v.SetDefault("poll.interval_sec", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and overlays environment variables. A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("taskwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, "TASKWATCH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every required secret that is missing, wrapped in
// ErrMissingSecret.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Mailbox.Username == "" {
		missing = append(missing, "mailbox.username")
	}
	if c.Mailbox.Password == "" {
		missing = append(missing, "mailbox.password")
	}
	if c.Identity.Email == "" {
		missing = append(missing, "identity.email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}

	switch c.Storage.CredentialBackend {
	case "keyring", "sqlite":
	default:
		return fmt.Errorf("unknown credential backend %q", c.Storage.CredentialBackend)
	}

	return nil
}

// PollInterval returns the loop interval, never less than a minute.
func (c *AppConfig) PollInterval() time.Duration {
	d := time.Duration(c.Poll.IntervalSec) * time.Second
	if d < time.Minute {
		d = time.Minute
	}
	return d
}

// IdentityRequestTimeout is the per-request timeout of the identity
// provider client.
const IdentityRequestTimeout = 30 * time.Second

// CycleTimeout bounds one poll cycle. It leaves room for the fetch, a
// complete re-authentication and the retried fetch.
func (c *AppConfig) CycleTimeout() time.Duration {
	apiTimeout := time.Duration(c.API.TimeoutSec) * time.Second
	if apiTimeout <= 0 {
		apiTimeout = 30 * time.Second
	}

	refresh := time.Duration(c.Refresh.DeadlineSec+c.Refresh.MaxDelaySec) * time.Second
	if refresh <= 0 {
		refresh = 150 * time.Second
	}

	return 2*apiTimeout + 2*IdentityRequestTimeout + refresh + time.Minute
}
