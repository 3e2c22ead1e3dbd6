package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport kinds
const (
	TransportGraph = "graph"
	TransportIMAP  = "imap"
)

// Missing importance policies
const (
	ImportanceDefaultNormal = "normal"
	ImportanceReject        = "reject"
)

type ServerConfig struct {
	Port    int    `toml:"port"`
	BaseURL string `toml:"base_url"` // public URL, used for the OAuth redirect
}

type TransportConfig struct {
	Kind string `toml:"kind"` // "graph" or "imap"
}

type GraphConfig struct {
	BaseURL           string   `toml:"base_url"`
	Tenant            string   `toml:"tenant"`
	ClientID          string   `toml:"client_id"`
	ClientSecret      string   `toml:"client_secret"`
	RedirectURL       string   `toml:"redirect_url"`
	Scopes            []string `toml:"scopes"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Trace             bool     `toml:"trace"` // dump requests and responses at debug level
}

type IMAPConfig struct {
	Server        string   `toml:"server"`
	Port          int      `toml:"port"`
	DraftsFolders []string `toml:"drafts_folders"`
	SentFolders   []string `toml:"sent_folders"`
}

type SMTPConfig struct {
	Server      string `toml:"server"`
	Port        int    `toml:"port"`
	UseSTARTTLS bool   `toml:"use_starttls"` // true for port 587, false for port 465
}

type ComposerConfig struct {
	MissingImportance   string   `toml:"missing_importance"`    // "normal" or "reject"
	SkipEmptyRecipients bool     `toml:"skip_empty_recipients"` // drop "" entries at submit
	SelectionBuffer     int      `toml:"selection_buffer"`
	SubmitTimeout       Duration `toml:"submit_timeout"` // zero means no limit
}

type CalendarConfig struct {
	WeekStart string   `toml:"week_start"` // "sunday" or "monday"
	CacheTTL  Duration `toml:"cache_ttl"`
}

type SessionConfig struct {
	Expiration   Duration `toml:"expiration"`
	CookieSecure bool     `toml:"cookie_secure"`
}

type JWTConfig struct {
	Secret string   `toml:"secret"` // For JWT signing
	TTL    Duration `toml:"ttl"`
}

type EncryptionConfig struct {
	Key string `toml:"key"` // 32-byte key for secret storage
}

type DataConfig struct {
	Folder string `toml:"folder"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   Duration `toml:"window"`
}

type SSLConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"` // Path to fullchain.pem
	KeyFile  string `toml:"key_file"`  // Path to privkey.pem
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Transport  TransportConfig  `toml:"transport"`
	Graph      GraphConfig      `toml:"graph"`
	IMAP       IMAPConfig       `toml:"imap"`
	SMTP       SMTPConfig       `toml:"smtp"`
	Composer   ComposerConfig   `toml:"composer"`
	Calendar   CalendarConfig   `toml:"calendar"`
	Session    SessionConfig    `toml:"session"`
	JWT        JWTConfig        `toml:"jwt"`
	Encryption EncryptionConfig `toml:"encryption"`
	Data       DataConfig       `toml:"data"`
	Log        LogConfig        `toml:"log"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	SSL        SSLConfig        `toml:"ssl"`
}

// Duration lets TOML values like "30s" decode into a time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Transport.Kind = TransportGraph

	config.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	config.Graph.Tenant = "common"
	config.Graph.Scopes = []string{"openid", "offline_access", "User.Read", "Mail.ReadWrite", "Mail.Send", "Calendars.Read"}
	config.Graph.RequestsPerSecond = 10

	config.IMAP.Port = 993
	config.IMAP.DraftsFolders = []string{"Drafts", "INBOX.Drafts"}
	config.IMAP.SentFolders = []string{"Sent", "Sent Items", "Sent Mail"}
	config.SMTP.Port = 587 // Default to STARTTLS port
	config.SMTP.UseSTARTTLS = true

	config.Composer.MissingImportance = ImportanceDefaultNormal
	config.Composer.SelectionBuffer = 8

	config.Calendar.WeekStart = "sunday"
	config.Calendar.CacheTTL = Duration{5 * time.Minute}

	config.Session.Expiration = Duration{24 * time.Hour}
	config.JWT.TTL = Duration{24 * time.Hour}

	config.Data.Folder = "./data"
	config.Log.Level = "info"

	config.RateLimit.Requests = 100
	config.RateLimit.Window = Duration{time.Minute}

	return &config
}

// LoadConfig reads the TOML file at filepath over the defaults
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if _, err := toml.DecodeFile(filepath, config); err != nil {
		return nil, err
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// Parse decodes TOML text over the defaults
func Parse(data string) (*Config, error) {
	config := Default()
	if _, err := toml.Decode(data, config); err != nil {
		return nil, err
	}
	if err := config.normalize(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) normalize() error {
	// If SMTP server is not specified, derive it from IMAP server
	if c.SMTP.Server == "" {
		c.SMTP.Server = c.IMAP.Server
		if strings.HasPrefix(c.SMTP.Server, "imap.") {
			c.SMTP.Server = "smtp" + c.SMTP.Server[4:]
		}
	}

	if c.Graph.RedirectURL == "" && c.Server.BaseURL != "" {
		c.Graph.RedirectURL = strings.TrimRight(c.Server.BaseURL, "/") + "/auth/callback"
	}

	c.Transport.Kind = strings.ToLower(c.Transport.Kind)
	switch c.Transport.Kind {
	case TransportGraph:
		if c.Graph.ClientID == "" {
			return fmt.Errorf("graph.client_id is required for the graph transport")
		}
	case TransportIMAP:
		if c.IMAP.Server == "" {
			return fmt.Errorf("imap.server is required for the imap transport")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	switch c.Composer.MissingImportance {
	case ImportanceDefaultNormal, ImportanceReject:
	default:
		return fmt.Errorf("composer.missing_importance must be %q or %q, got %q",
			ImportanceDefaultNormal, ImportanceReject, c.Composer.MissingImportance)
	}

	switch strings.ToLower(c.Calendar.WeekStart) {
	case "sunday", "monday":
		c.Calendar.WeekStart = strings.ToLower(c.Calendar.WeekStart)
	default:
		return fmt.Errorf("calendar.week_start must be sunday or monday")
	}

	if c.Composer.SelectionBuffer <= 0 {
		c.Composer.SelectionBuffer = 1
	}

	if c.Encryption.Key != "" && len(c.Encryption.Key) != 32 {
		return fmt.Errorf("encryption.key must be 32 bytes, got %d", len(c.Encryption.Key))
	}

	if c.SSL.Enabled {
		if err := c.ValidateSSL(); err != nil {
			return fmt.Errorf("SSL configuration error: %w", err)
		}
	}

	return nil
}

// GetPort returns the SMTP port, falling back to the standard port for the
// configured encryption
func (c *SMTPConfig) GetPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.UseSTARTTLS {
		return 587 // STARTTLS port
	}
	return 465 // SSL/TLS port
}

// ValidateSSL checks if the SSL configuration is valid
func (c *Config) ValidateSSL() error {
	if !c.SSL.Enabled {
		return nil
	}

	if c.SSL.CertFile == "" {
		return fmt.Errorf("SSL certificate file path is required")
	}

	if c.SSL.KeyFile == "" {
		return fmt.Errorf("SSL key file path is required")
	}

	// Try loading the certificates to verify they're valid
	_, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load SSL certificates: %w", err)
	}

	return nil
}
