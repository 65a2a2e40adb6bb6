package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when the Beszel service account is not configured.
var ErrMissingCredentials = errors.New("BESZEL_EMAIL and BESZEL_PASSWORD must be set")

// Config holds application configuration loaded from environment variables.
type Config struct {
	Env               string
	HTTPHost          string
	HTTPPort          int
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration

	BeszelURL       string
	BeszelEmail     string
	BeszelPassword  string
	UpstreamTimeout time.Duration
	TokenTTL        time.Duration
	SystemsCacheTTL time.Duration

	Display Display

	RateLimitRPS   float64
	RateLimitBurst int
	MetricsEnabled bool
}

// Display controls which parts of the widget are rendered.
type Display struct {
	RedirectURL    string
	HideKernel     bool
	HideUptime     bool
	HideCPUInfo    bool
	HideIP         bool
	OpenInNewTab   bool
	ReloadInterval int
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

const (
	defaultEnv               = "production"
	defaultHTTPHost          = "0.0.0.0"
	defaultHTTPPort          = 8091
	defaultRequestTimeout    = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second

	defaultBeszelURL       = "http://192.168.1.249:8090"
	defaultUpstreamTimeout = 10 * time.Second
	defaultTokenTTL        = 6 * time.Hour

	defaultReloadInterval = 3
	defaultRateLimitBurst = 20
)

// Load reads configuration values from the environment, applying defaults where necessary.
// A .env file in the working directory and a YAML file named by CONFIG_FILE are consulted
// first; real environment variables always win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return Config{}, err
		}
	}
	return fromEnv()
}

func fromEnv() (Config, error) {
	beszelURL := strings.TrimRight(getEnv("BESZEL_URL", defaultBeszelURL), "/")

	reload, err := strconv.Atoi(getEnv("RELOAD_INTERVAL", strconv.Itoa(defaultReloadInterval)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RELOAD_INTERVAL: %w", err)
	}
	if reload <= 0 {
		return Config{}, fmt.Errorf("RELOAD_INTERVAL must be positive, got %d", reload)
	}

	redirect, ok := os.LookupEnv("REDIRECT_URL")
	if !ok {
		redirect = beszelURL
	}

	cfg := Config{
		Env:               getEnv("APP_ENV", defaultEnv),
		HTTPHost:          getEnv("HTTP_HOST", defaultHTTPHost),
		HTTPPort:          getInt("HTTP_PORT", defaultHTTPPort),
		RequestTimeout:    getDuration("REQUEST_TIMEOUT", defaultRequestTimeout),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		ReadHeaderTimeout: getDuration("READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),

		BeszelURL:       beszelURL,
		BeszelEmail:     os.Getenv("BESZEL_EMAIL"),
		BeszelPassword:  os.Getenv("BESZEL_PASSWORD"),
		UpstreamTimeout: getDuration("UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		TokenTTL:        getDuration("TOKEN_TTL", defaultTokenTTL),
		SystemsCacheTTL: getDuration("SYSTEMS_CACHE_TTL", 0),

		Display: Display{
			RedirectURL:    strings.TrimRight(redirect, "/"),
			HideKernel:     getBool("HIDE_KERNEL"),
			HideUptime:     getBool("HIDE_UPTIME"),
			HideCPUInfo:    getBool("HIDE_CPU_INFO"),
			HideIP:         getBool("HIDE_IP"),
			OpenInNewTab:   getBool("OPEN_IN_NEW_TAB"),
			ReloadInterval: reload,
		},

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", defaultRateLimitBurst),
		MetricsEnabled: getEnv("METRICS_ENABLED", "true") == "true",
	}

	if cfg.BeszelEmail == "" || cfg.BeszelPassword == "" {
		return cfg, ErrMissingCredentials
	}

	return cfg, nil
}

// applyFile sets every key from a flat YAML mapping that is not already
// present in the environment.
func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for key, value := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("apply %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getBool(key string) bool {
	return strings.ToLower(os.Getenv(key)) == "true"
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
