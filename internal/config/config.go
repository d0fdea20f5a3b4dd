package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	LogLevel   string
	Timezone   string

	DB struct {
		DSN string
	}

	JWT struct {
		Secret   string
		TokenTTL time.Duration
	}

	OIDC struct {
		IssuerURL string
		ClientID  string
	}

	MQTT struct {
		BrokerURL   string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
		DeviceID    string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	LookupCacheTTL    time.Duration
	RejectWithReason  bool
	PrometheusEnabled bool
	TrustedProxies    []string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, or the file named by APP_ENV_FILE, is loaded first
// without overriding variables that are already set.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.LogLevel = getenvDefault("APP_LOG_LEVEL", "info")
	cfg.Timezone = getenvDefault("APP_TIMEZONE", "Local")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.JWT.Secret = os.Getenv("APP_JWT_SECRET")
	cfg.OIDC.IssuerURL = os.Getenv("APP_OIDC_ISSUER_URL")
	cfg.OIDC.ClientID = os.Getenv("APP_OIDC_CLIENT_ID")

	cfg.MQTT.BrokerURL = getenvDefault("APP_MQTT_BROKER_URL", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getenvDefault("APP_MQTT_CLIENT_ID", "dialerd")
	cfg.MQTT.Username = os.Getenv("APP_MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("APP_MQTT_PASSWORD")
	cfg.MQTT.TopicPrefix = getenvDefault("APP_MQTT_TOPIC_PREFIX", "dialer")
	cfg.MQTT.DeviceID = os.Getenv("APP_DEVICE_ID")

	cfg.Redis.Addr = os.Getenv("APP_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("APP_REDIS_PASSWORD")

	var err error
	if cfg.Redis.DB, err = getenvInt("APP_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LookupCacheTTL, err = getenvDuration("APP_LOOKUP_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWT.TokenTTL, err = getenvDuration("APP_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	cfg.RejectWithReason = getenvBool("APP_REJECT_WITH_REASON", true)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DB.DSN == "" {
		return errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if c.JWT.Secret == "" {
		return errors.New("APP_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("APP_JWT_SECRET must be at least 32 characters long (got %d)", len(c.JWT.Secret))
	}
	if (c.OIDC.IssuerURL == "") != (c.OIDC.ClientID == "") {
		return errors.New("APP_OIDC_ISSUER_URL and APP_OIDC_CLIENT_ID must be set together")
	}
	if c.MQTT.DeviceID == "" {
		return errors.New("APP_DEVICE_ID is required")
	}
	if strings.ContainsAny(c.MQTT.DeviceID, "/+#") {
		return fmt.Errorf("APP_DEVICE_ID %q must not contain MQTT topic separators or wildcards", c.MQTT.DeviceID)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	return nil
}

// Location resolves the configured timezone used for call-log day labels.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func loadEnvFile() error {
	path := getenvDefault("APP_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must not be negative", key)
	}
	return d, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
