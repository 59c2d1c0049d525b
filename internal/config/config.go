package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	BackendInfluxDB = "influxdb"
	BackendSQLite   = "sqlite"

	redacted = "********"
)

// Config holds the application configuration
type Config struct {
	SmartHub SmartHubConfig `mapstructure:"smarthub" yaml:"smarthub"`
	Rates    RatesConfig    `mapstructure:"rates" yaml:"rates"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb" yaml:"influxdb"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Discord  DiscordConfig  `mapstructure:"discord" yaml:"discord"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
	Alert    AlertConfig    `mapstructure:"alert" yaml:"alert"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// SmartHubConfig holds the portal account and polling settings
type SmartHubConfig struct {
	Email            string        `mapstructure:"email" yaml:"email"`
	Password         string        `mapstructure:"password" yaml:"password"`
	Token            string        `mapstructure:"token" yaml:"token"` // Skips the login flow when set
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	LoginURL         string        `mapstructure:"login_url" yaml:"login_url"` // Derived from base_url if empty
	APIURL           string        `mapstructure:"api_url" yaml:"api_url"`     // Derived from base_url if empty
	ServiceLocation  string        `mapstructure:"service_location" yaml:"service_location"`
	AccountNumber    string        `mapstructure:"account_number" yaml:"account_number"`
	PollAttempts     int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StrictPollStatus bool          `mapstructure:"strict_poll_status" yaml:"strict_poll_status"`
}

type RatesConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type ProviderConfig struct {
	Name string `mapstructure:"name" yaml:"name"` // Tag value on stored points and notification footer
}

type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "influxdb" or "sqlite"
}

type InfluxDBConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Token  string `mapstructure:"token" yaml:"token"`
	Org    string `mapstructure:"org" yaml:"org"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"` // Notifications are skipped when empty
}

// MQTTConfig holds the optional Home Assistant publication settings
type MQTTConfig struct {
	Broker      string `mapstructure:"broker" yaml:"broker"` // host:port, publishing is disabled when empty
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type AlertConfig struct {
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold"`     // Alert when usage exceeds threshold x average
	WindowDays int     `mapstructure:"window_days" yaml:"window_days"` // Days in the rolling average
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // "DEBUG", "INFO", "WARN", "ERROR"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

var defaults = map[string]any{
	"smarthub.email":              "",
	"smarthub.password":           "",
	"smarthub.token":              "",
	"smarthub.base_url":           "https://holston.smarthub.coop",
	"smarthub.login_url":          "",
	"smarthub.api_url":            "",
	"smarthub.service_location":   "",
	"smarthub.account_number":     "",
	"smarthub.poll_attempts":      10,
	"smarthub.poll_interval":      "5s",
	"smarthub.strict_poll_status": false,
	"rates.url":                   "https://holstonelectric.com/rates",
	"provider.name":               "Holston Electric",
	"store.backend":               BackendInfluxDB,
	"influxdb.url":                "",
	"influxdb.token":              "",
	"influxdb.org":                "",
	"influxdb.bucket":             "",
	"sqlite.path":                 "data.db",
	"discord.webhook_url":         "",
	"mqtt.broker":                 "",
	"mqtt.username":               "",
	"mqtt.password":               "",
	"mqtt.topic_prefix":           "energybot",
	"alert.threshold":             1.5,
	"alert.window_days":           7,
	"http.timeout":                "30s",
	"log.level":                   "INFO",
	"log.format":                  "text",
}

// Load reads configuration from .env, an optional YAML file and the
// environment, in increasing order of precedence. An empty configPath looks
// for ./config.yaml and carries on without it. The result is not validated.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("rates.url", "RATES_URL", "HOLSTON_RATES_URL"); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("unable to read config file: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	c.SmartHub.BaseURL = strings.TrimRight(c.SmartHub.BaseURL, "/")
	if c.SmartHub.LoginURL == "" {
		c.SmartHub.LoginURL = c.SmartHub.BaseURL + "/Login.html"
	}
	if c.SmartHub.APIURL == "" {
		c.SmartHub.APIURL = c.SmartHub.BaseURL + "/services/secured/utility-usage/poll"
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)

	return &c, nil
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Missing []string // environment variable names of required settings
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Validate checks required settings and value ranges, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	require := func(value, env string) {
		if strings.TrimSpace(value) == "" {
			verr.Missing = append(verr.Missing, env)
		}
	}

	require(c.SmartHub.Email, "SMARTHUB_EMAIL")
	if c.SmartHub.Token == "" {
		require(c.SmartHub.Password, "SMARTHUB_PASSWORD")
	}
	require(c.SmartHub.ServiceLocation, "SMARTHUB_SERVICE_LOCATION")
	require(c.SmartHub.AccountNumber, "SMARTHUB_ACCOUNT_NUMBER")

	switch c.Store.Backend {
	case BackendInfluxDB:
		require(c.InfluxDB.URL, "INFLUXDB_URL")
		require(c.InfluxDB.Token, "INFLUXDB_TOKEN")
		require(c.InfluxDB.Org, "INFLUXDB_ORG")
		require(c.InfluxDB.Bucket, "INFLUXDB_BUCKET")
	case BackendSQLite:
		require(c.SQLite.Path, "SQLITE_PATH")
	default:
		verr.Invalid = append(verr.Invalid,
			fmt.Sprintf("store.backend must be %q or %q, got %q", BackendInfluxDB, BackendSQLite, c.Store.Backend))
	}

	if c.SmartHub.PollAttempts <= 0 {
		verr.Invalid = append(verr.Invalid, "smarthub.poll_attempts must be positive")
	}
	if c.SmartHub.PollInterval < 0 {
		verr.Invalid = append(verr.Invalid, "smarthub.poll_interval must not be negative")
	}
	if c.Alert.Threshold <= 0 {
		verr.Invalid = append(verr.Invalid, "alert.threshold must be positive")
	}
	if c.Alert.WindowDays <= 0 {
		verr.Invalid = append(verr.Invalid, "alert.window_days must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		verr.Invalid = append(verr.Invalid, "http.timeout must be positive")
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

// Redacted returns a copy with every secret masked
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.SmartHub.Password)
	mask(&c.SmartHub.Token)
	mask(&c.InfluxDB.Token)
	mask(&c.MQTT.Password)
	mask(&c.Discord.WebhookURL)
	return c
}

// YAML renders the redacted configuration
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}
