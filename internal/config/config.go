// Package config loads gateway configuration from the environment.
package config

import (
	stderrors "errors"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Catalog backends.
const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendFile     = "file"
)

// minSecretLength is the shortest HMAC secret accepted at startup.
const minSecretLength = 16

// DefaultRelayTimeouts are the per-attempt timeouts used when IPA_RELAY_TIMEOUTS is unset.
var DefaultRelayTimeouts = []time.Duration{5 * time.Second, 10 * time.Second}

// Config holds all gateway settings. Field tags are read by envdecode.
type Config struct {
	ListenAddr string `env:"IPA_LISTEN_ADDR,default=:8080"`

	TokenSecret string        `env:"IPA_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"IPA_TOKEN_TTL,default=5m"`
	TokenIssuer string        `env:"IPA_TOKEN_ISSUER,default=ipa-gateway"`

	PublicBaseURL string `env:"IPA_PUBLIC_BASE_URL"`
	ManifestDir   string `env:"IPA_MANIFEST_DIR,default=./plist"`
	StaticDir     string `env:"IPA_STATIC_DIR"`

	CatalogBackend     string        `env:"IPA_CATALOG_BACKEND,default=postgres"`
	CatalogTable       string        `env:"IPA_CATALOG_TABLE,default=apps"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseServiceKey string        `env:"SUPABASE_SERVICE_KEY"`
	CatalogFile        string        `env:"IPA_CATALOG_FILE,default=catalog.yaml"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	CatalogCacheTTL    time.Duration `env:"IPA_CATALOG_CACHE_TTL,default=1m"`

	ObfuscatedExtension  string `env:"IPA_OBFUSCATED_EXTENSION,default=.p_list"`
	LandingPath          string `env:"IPA_LANDING_PATH,default=/install"`
	AttachmentFilename   string `env:"IPA_ATTACHMENT_FILENAME,default=manifest.plist"`
	RelayAllowedHostsRaw string `env:"IPA_RELAY_ALLOWED_HOSTS"`
	RelayTimeoutsRaw     string `env:"IPA_RELAY_TIMEOUTS"`
	RelayKey             string `env:"IPA_RELAY_KEY"`

	RateLimitRPS       int    `env:"IPA_RATE_LIMIT_RPS,default=10"`
	RateLimitBurst     int    `env:"IPA_RATE_LIMIT_BURST,default=20"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load reads an optional .env file and decodes the environment into a Config.
// Variables already present in the environment take priority over the file.
func Load(envFile string) (*Config, error) {
	cfg, err := Decode(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode is Load without validation, for tools that need only part of the
// configuration.
func Decode(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// ValidateIssuer checks only the settings needed to mint credentials.
func (c *Config) ValidateIssuer() error {
	return joinProblems(c.issuerProblems())
}

func (c *Config) issuerProblems() []string {
	var problems []string

	if len(c.TokenSecret) < minSecretLength {
		problems = append(problems, fmt.Sprintf("IPA_TOKEN_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "IPA_TOKEN_TTL must be positive")
	}

	if parsed, err := neturl.Parse(c.PublicBaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		problems = append(problems, "IPA_PUBLIC_BASE_URL must be an absolute URL")
	} else if parsed.User != nil {
		problems = append(problems, "IPA_PUBLIC_BASE_URL must not include user info")
	}
	return problems
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	problems := c.issuerProblems()

	switch c.CatalogBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres catalog")
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase catalog")
		}
	case BackendFile:
		if c.CatalogFile == "" {
			problems = append(problems, "IPA_CATALOG_FILE is required for the file catalog")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown IPA_CATALOG_BACKEND %q", c.CatalogBackend))
	}

	if c.ObfuscatedExtension == "" || c.ObfuscatedExtension == ".plist" {
		problems = append(problems, "IPA_OBFUSCATED_EXTENSION must differ from .plist")
	}
	if !strings.HasPrefix(c.LandingPath, "/") {
		problems = append(problems, "IPA_LANDING_PATH must start with /")
	}
	if _, err := c.RelayTimeouts(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "IPA_RATE_LIMIT_RPS and IPA_RATE_LIMIT_BURST must be positive")
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RelayTimeouts parses the escalating per-attempt timeouts for manifest relays.
func (c *Config) RelayTimeouts() ([]time.Duration, error) {
	raw := splitAndTrimCSV(c.RelayTimeoutsRaw)
	if len(raw) == 0 {
		return append([]time.Duration(nil), DefaultRelayTimeouts...), nil
	}
	out := make([]time.Duration, 0, len(raw))
	for _, v := range raw {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("IPA_RELAY_TIMEOUTS has invalid duration %q", v)
		}
		out = append(out, d)
	}
	return out, nil
}

// RelayAllowedHosts returns the hosts the edge filter may relay from.
// An empty setting allows only the public base URL's host.
func (c *Config) RelayAllowedHosts() []string {
	if hosts := splitAndTrimCSV(c.RelayAllowedHostsRaw); len(hosts) > 0 {
		return hosts
	}
	if parsed, err := neturl.Parse(c.PublicBaseURL); err == nil && parsed.Hostname() != "" {
		return []string{parsed.Hostname()}
	}
	return nil
}

// AllowedOrigins returns the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	return splitAndTrimCSV(c.CORSAllowedOrigins)
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
