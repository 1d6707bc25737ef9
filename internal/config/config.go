package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Mail drivers
const (
	DriverSMTP = "smtp"
	DriverSES  = "ses"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	Mail     MailConfig     `yaml:"mail"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	DKIM     DKIMConfig     `yaml:"dkim"`
	Admin    AdminConfig    `yaml:"admin"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"   env:"LISTEN_ADDR"`
	SecretKey    string        `yaml:"secret_key"    env:"SECRET_KEY"` // Signs flash cookies
	ReadTimeout  time.Duration `yaml:"read_timeout"  env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"  env:"SERVER_IDLE_TIMEOUT"`
	TLS          TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS certificate settings for the web server
type TLSConfig struct {
	CertFile string     `yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string     `yaml:"key_file"  env:"TLS_KEY_FILE"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"   env:"ACME_ENABLED"`
	Email    string   `yaml:"email"     env:"ACME_EMAIL"`
	Domains  []string `yaml:"domains"   env:"ACME_DOMAINS" env-separator:","`
	CacheDir string   `yaml:"cache_dir" env:"ACME_CACHE_DIR"`
}

// TrackingConfig contains settings for tracked URLs
type TrackingConfig struct {
	BaseURL         string       `yaml:"base_url"         env:"TRACKING_DOMAIN"` // Public base of /track and /link URLs
	DefaultRedirect string       `yaml:"default_redirect" env:"TRACKING_DEFAULT_REDIRECT"`
	Links           []LinkConfig `yaml:"links"`
}

// LinkConfig describes one footer link added to every tracked email
type LinkConfig struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// MailConfig selects the outbound driver
type MailConfig struct {
	Driver string `yaml:"driver" env:"MAIL_DRIVER"` // smtp, ses
}

// SMTPConfig contains outbound relay settings
type SMTPConfig struct {
	Host     string        `yaml:"host"     env:"MAIL_SERVER"`
	Port     int           `yaml:"port"     env:"MAIL_PORT"`
	UseTLS   bool          `yaml:"use_tls"  env:"MAIL_USE_TLS"` // STARTTLS
	UseSSL   bool          `yaml:"use_ssl"  env:"MAIL_USE_SSL"` // Implicit TLS
	Username string        `yaml:"username" env:"MAIL_USERNAME"`
	Password string        `yaml:"password" env:"MAIL_PASSWORD"`
	From     string        `yaml:"from"     env:"MAIL_FROM"`
	Helo     string        `yaml:"helo"     env:"MAIL_HELO"`
	Timeout  time.Duration `yaml:"timeout"  env:"MAIL_TIMEOUT"`
}

// SESConfig contains AWS SES settings
type SESConfig struct {
	Region    string `yaml:"region"     env:"SES_REGION"`
	AccessKey string `yaml:"access_key" env:"SES_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SES_SECRET_KEY"`
	From      string `yaml:"from"       env:"SES_FROM"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"DKIM_ENABLED"`
	Selector string `yaml:"selector" env:"DKIM_SELECTOR"`
	KeyFile  string `yaml:"key_file" env:"DKIM_KEY_FILE"`
	Domain   string `yaml:"domain"   env:"DKIM_DOMAIN"`
}

// AdminConfig contains the credential guarding the logs page
type AdminConfig struct {
	Password     string   `yaml:"password"      env:"ADMIN_PASSWORD"`
	PasswordHash string   `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"` // bcrypt, wins over password
	ProtectLogs  bool     `yaml:"protect_logs"  env:"ADMIN_PROTECT_LOGS"`
	AllowedIPs   []string `yaml:"allowed_ips"   env:"ADMIN_ALLOWED_IPS" env-separator:","`
}

// StorageConfig contains log file settings
type StorageConfig struct {
	LogsDir   string `yaml:"logs_dir"   env:"LOGS_DIR"`
	QueueSize int    `yaml:"queue_size" env:"LOGS_QUEUE_SIZE"` // Buffered tracking events
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"`  // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"        env:"METRICS_ENABLED"`
	ListenAddr    string        `yaml:"listen_addr"    env:"METRICS_LISTEN_ADDR"` // Default: :9090
	Path          string        `yaml:"path"           env:"METRICS_PATH"`        // Default: /metrics
	StatePath     string        `yaml:"state_path"     env:"METRICS_STATE_PATH"`  // bbolt file, empty = no persistence
	FlushInterval time.Duration `yaml:"flush_interval" env:"METRICS_FLUSH_INTERVAL"`
	AllowedIPs    []string      `yaml:"allowed_ips"    env:"METRICS_ALLOWED_IPS" env-separator:","`
}

// Default returns a configuration populated with default values.
// Loaded YAML and environment values are applied on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   "0.0.0.0:5000",
			SecretKey:    "clave_secreta_por_defecto",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLS: TLSConfig{
				ACME: ACMEConfig{CacheDir: "certs"},
			},
		},
		Tracking: TrackingConfig{
			DefaultRedirect: "https://www.google.com",
			Links: []LinkConfig{
				{Label: "Ver más información", URL: "https://www.google.com"},
				{Label: "Contacto", URL: "https://www.wikipedia.com"},
			},
		},
		Mail: MailConfig{Driver: DriverSMTP},
		SMTP: SMTPConfig{
			Port:    587,
			UseTLS:  true,
			Timeout: 30 * time.Second,
		},
		SES:   SESConfig{Region: "us-east-1"},
		Admin: AdminConfig{Password: "admin"},
		Storage: StorageConfig{
			LogsDir:   "logs",
			QueueSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ListenAddr:    ":9090",
			Path:          "/metrics",
			FlushInterval: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// an optional .env file and the process environment, in that order.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if filepath.Ext(envFile) != ".env" {
			return nil, fmt.Errorf("env file %s must have the .env extension", envFile)
		}
		// ReadConfig exports the file's variables, then applies the environment
		if err := cleanenv.ReadConfig(envFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults fills values derived from other settings
func (c *Config) setDefaults() {
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	if c.SES.From == "" {
		c.SES.From = c.SMTP.From
	}
	if c.SMTP.Helo == "" {
		hostname, _ := os.Hostname()
		c.SMTP.Helo = hostname
	}
	if c.DKIM.Selector == "" {
		c.DKIM.Selector = "mailtrack"
	}
	if c.Storage.QueueSize <= 0 {
		c.Storage.QueueSize = 1024
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url (TRACKING_DOMAIN) is required")
	}
	u, err := url.Parse(c.Tracking.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid tracking.base_url: %s (must be an absolute URL)", c.Tracking.BaseURL)
	}

	for i, l := range c.Tracking.Links {
		if l.Label == "" || l.URL == "" {
			return fmt.Errorf("tracking.links[%d] requires both label and url", i)
		}
	}

	if c.Server.SecretKey == "" {
		return fmt.Errorf("server.secret_key (SECRET_KEY) must not be empty")
	}

	if c.Storage.LogsDir == "" {
		return fmt.Errorf("storage.logs_dir must not be empty")
	}

	switch c.Mail.Driver {
	case DriverSMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host (MAIL_SERVER) is required for the smtp driver")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid smtp.port: %d", c.SMTP.Port)
		}
		if c.SMTP.UseTLS && c.SMTP.UseSSL {
			return fmt.Errorf("smtp.use_tls and smtp.use_ssl are mutually exclusive")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from or smtp.username is required")
		}
	case DriverSES:
		if c.SES.Region == "" {
			return fmt.Errorf("ses.region is required for the ses driver")
		}
		if c.SES.From == "" {
			return fmt.Errorf("ses.from is required for the ses driver")
		}
	default:
		return fmt.Errorf("invalid mail.driver: %s (must be smtp or ses)", c.Mail.Driver)
	}

	if c.Admin.ProtectLogs && c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.password or admin.password_hash is required when protect_logs is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	return c.validateDKIM()
}

// validateTLS validates TLS configuration
func (c *Config) validateTLS() error {
	tls := c.Server.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""

	if hasCerts && tls.ACME.Enabled {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts && (tls.CertFile == "" || tls.KeyFile == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}

	if tls.ACME.Enabled {
		if tls.ACME.Email == "" {
			return fmt.Errorf("server.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("server.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.DKIM.Enabled {
		return nil
	}
	if c.Mail.Driver != DriverSMTP {
		return fmt.Errorf("dkim signing is only supported by the smtp driver")
	}
	if c.DKIM.KeyFile == "" {
		return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
	}
	if c.DKIM.Domain == "" {
		return fmt.Errorf("dkim.domain is required when DKIM is enabled")
	}
	return nil
}

// HasTLS returns true if the web server should serve HTTPS
func (c *Config) HasTLS() bool {
	return (c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile != "") || c.Server.TLS.ACME.Enabled
}

// SenderAddress returns the From address of the active driver
func (c *Config) SenderAddress() string {
	if c.Mail.Driver == DriverSES {
		return c.SES.From
	}
	return c.SMTP.From
}
