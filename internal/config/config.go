package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	LogLevel      string `mapstructure:"log_level"`
	// Storage selects the repository backend: "postgres" or "memory".
	Storage string `mapstructure:"storage"`

	Server struct {
		Port    int    `mapstructure:"port"`
		TLSPort int    `mapstructure:"tls_port"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`
	Cache struct {
		TenantTTL time.Duration `mapstructure:"tenant_ttl"`
	} `mapstructure:"cache"`
	Review struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"review"`
	Workflow struct {
		Workers          int `mapstructure:"workers"`
		QueueSize        int `mapstructure:"queue_size"`
		PollAfterSeconds int `mapstructure:"poll_after_seconds"`
	} `mapstructure:"workflow"`
	Webhook struct {
		CallbackSecret  string        `mapstructure:"callback_secret"`
		ReplayWindow    time.Duration `mapstructure:"replay_window"`
		DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
		RatePerSecond   float64       `mapstructure:"rate_per_second"`
		Burst           int           `mapstructure:"burst"`
	} `mapstructure:"webhook"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment. An empty
// path searches for config.yaml in the working directory and ./config. A missing
// file is not an error: defaults and SALESAGENT_* variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("salesagent")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// setDefaults registers every key, even with an empty value, since viper only
// binds environment variables for keys it knows about during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls_port", 8443)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("storage", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "salesagent")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.url", "")
	v.SetDefault("review.url", "")
	v.SetDefault("webhook.callback_secret", "")
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("cache.tenant_ttl", 5*time.Minute)
	v.SetDefault("review.timeout", 30*time.Second)
	v.SetDefault("workflow.workers", 4)
	v.SetDefault("workflow.queue_size", 64)
	v.SetDefault("workflow.poll_after_seconds", 30)
	v.SetDefault("webhook.replay_window", 300*time.Second)
	v.SetDefault("webhook.delivery_timeout", 10*time.Second)
	v.SetDefault("webhook.rate_per_second", 20.0)
	v.SetDefault("webhook.burst", 5)
}

// DatabaseURL returns the pgx connection string for the DB section.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + c.DB.SSLMode,
	}
	return u.String()
}

// IsDev reports whether the process runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// normalizeOktaIssuer removes a trailing slash so that the issuer URL can be
// pasted straight from the Okta admin console.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
