package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Hardcoded defaults for the gateway.
const (
	DefaultSessionTTL      = 12 * time.Hour
	DefaultExchangeTimeout = 15 * time.Second
	DefaultAPITimeout      = 30 * time.Second
	DefaultHSTSMaxAge      = 31536000
)

// Config captures the full gateway configuration loaded from YAML with
// environment overrides.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Brand    BrandConfig    `yaml:"brand"`
	SSO      SSOConfig      `yaml:"sso"`
	API      APIConfig      `yaml:"api"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig controls listeners, TLS, and cookie scope.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production listeners.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	CacheDir   string   `yaml:"cache_dir"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// BrandConfig names the product surface this gateway fronts.
type BrandConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// SSOConfig describes the central identity provider.
type SSOConfig struct {
	BaseURL  string `yaml:"base_url"`
	ClientID string `yaml:"client_id"`

	// AuthorizeURL and TokenURL override the conventional {base}/authorize
	// and {base}/token endpoints. When DiscoverEndpoints is set they are
	// resolved from the IdP's OIDC discovery document at startup instead.
	AuthorizeURL      string `yaml:"authorize_url"`
	TokenURL          string `yaml:"token_url"`
	DiscoverEndpoints bool   `yaml:"discover_endpoints"`

	// ExchangeTimeout is a duration string ("15s"); unparseable or empty
	// values fall back to DefaultExchangeTimeout.
	ExchangeTimeout string `yaml:"exchange_timeout"`
	SignupPath      string `yaml:"signup_path"`
	LoginPath       string `yaml:"login_path"`
}

// APIConfig points the /api proxy at the backend REST service.
type APIConfig struct {
	Target             string `yaml:"target"`
	StripPrefix        string `yaml:"strip_prefix"`
	Timeout            string `yaml:"timeout"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SessionsConfig tunes the browser session store.
type SessionsConfig struct {
	TTL string `yaml:"ttl"`
}

// configEnv mirrors the override-able fields as environment variables.
type configEnv struct {
	PublicURL     string `env:"LITGATE_PUBLIC_URL"`
	DevListenAddr string `env:"LITGATE_DEV_LISTEN_ADDR"`
	DevMode       *bool  `env:"LITGATE_DEV_MODE"`
	CookieDomain  string `env:"LITGATE_COOKIE_DOMAIN"`
	BrandCode     string `env:"LITGATE_BRAND"`
	BrandName     string `env:"LITGATE_BRAND_NAME"`
	SSOBaseURL    string `env:"LITGATE_SSO_BASE_URL"`
	SSOClientID   string `env:"LITGATE_SSO_CLIENT_ID"`
	APITarget     string `env:"LITGATE_API_TARGET"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if raw.PublicURL != "" {
		cfg.Server.PublicURL = raw.PublicURL
	}
	if raw.DevListenAddr != "" {
		cfg.Server.DevListenAddr = raw.DevListenAddr
	}
	if raw.DevMode != nil {
		cfg.Server.DevMode = *raw.DevMode
	}
	if raw.CookieDomain != "" {
		cfg.Server.CookieDomain = raw.CookieDomain
	}
	if raw.BrandCode != "" {
		cfg.Brand.Code = raw.BrandCode
	}
	if raw.BrandName != "" {
		cfg.Brand.Name = raw.BrandName
	}
	if raw.SSOBaseURL != "" {
		cfg.SSO.BaseURL = raw.SSOBaseURL
	}
	if raw.SSOClientID != "" {
		cfg.SSO.ClientID = raw.SSOClientID
	}
	if raw.APITarget != "" {
		cfg.API.Target = raw.APITarget
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				CacheDir:   ".autocert",
				HSTSMaxAge: DefaultHSTSMaxAge,
			},
		},
		Brand: BrandConfig{
			Code: "lang",
		},
		SSO: SSOConfig{
			BaseURL:         "http://127.0.0.1:9090",
			ClientID:        "lit-lang",
			ExchangeTimeout: DefaultExchangeTimeout.String(),
			SignupPath:      "/signup",
			LoginPath:       "/login",
		},
		API: APIConfig{
			StripPrefix: "/api",
			Timeout:     DefaultAPITimeout.String(),
		},
		Sessions: SessionsConfig{
			TTL: DefaultSessionTTL.String(),
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate performs sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if c.Brand.Code == "" {
		return errors.New("brand.code is required")
	}
	if c.SSO.BaseURL == "" {
		return errors.New("sso.base_url is required")
	}
	if !strings.HasPrefix(c.SSO.BaseURL, "http://") && !strings.HasPrefix(c.SSO.BaseURL, "https://") {
		return fmt.Errorf("sso.base_url must start with http:// or https://, got: %s", c.SSO.BaseURL)
	}
	if c.SSO.ClientID == "" {
		return errors.New("sso.client_id is required")
	}
	if c.SSO.DiscoverEndpoints && (c.SSO.AuthorizeURL != "" || c.SSO.TokenURL != "") {
		return errors.New("sso.discover_endpoints excludes explicit authorize_url/token_url")
	}
	if c.API.Target != "" {
		if !strings.HasPrefix(c.API.Target, "http://") && !strings.HasPrefix(c.API.Target, "https://") {
			return fmt.Errorf("api.target must start with http:// or https://, got: %s", c.API.Target)
		}
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}
	if c.SSO.ExchangeTimeout != "" {
		if _, err := time.ParseDuration(c.SSO.ExchangeTimeout); err != nil {
			return fmt.Errorf("sso.exchange_timeout: %w", err)
		}
	}
	if c.API.Timeout != "" {
		if _, err := time.ParseDuration(c.API.Timeout); err != nil {
			return fmt.Errorf("api.timeout: %w", err)
		}
	}
	if c.Sessions.TTL != "" {
		d, err := time.ParseDuration(c.Sessions.TTL)
		if err != nil {
			return fmt.Errorf("sessions.ttl: %w", err)
		}
		if d <= 0 {
			return errors.New("sessions.ttl must be positive")
		}
	}
	return nil
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
