// Package config handles loading and validation of tool configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"kroger-cart/internal/model"
)

// API environments. CERT is Kroger's certification sandbox.
const (
	EnvProd = "PROD"
	EnvCert = "CERT"
)

// DefaultScopes are the OAuth scopes requested during authorization.
const DefaultScopes = "product.compact cart.basic:write profile.compact"

// Config holds all tool configuration. Assembled once at process start and
// passed into constructors; nothing outside this package reads env vars.
type Config struct {
	// Runtime settings
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"
	Port        string // MCP server port (serve command)

	// GCP settings (credential loading in production)
	GCPProject string
	SecretName string

	// Kroger API settings
	APIEnv       string // PROD or CERT
	Zip          string
	Chain        string
	RedirectURI  string
	Scopes       string
	TokenFile    string
	TokenStorage string // auto, file, or keyring

	// Request layer settings
	RequestTimeout time.Duration

	// OAuth app credentials (loaded from env or Secret Manager)
	Credentials Credentials
}

// Credentials contains the Kroger developer app credentials.
// In production these are loaded from Secret Manager as JSON.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Load reads configuration from environment or Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Environment:    envOrDefault("ENVIRONMENT", "development"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		Port:           envOrDefault("PORT", "8080"),
		GCPProject:     os.Getenv("GCP_PROJECT"),
		SecretName:     envOrDefault("KROGER_SECRET_NAME", "kroger-cart-credentials"),
		APIEnv:         strings.ToUpper(envOrDefault("KROGER_ENV", EnvProd)),
		Zip:            envOrDefault("KROGER_ZIP", "84045"),
		Chain:          envOrDefault("KROGER_CHAIN", "Smiths"),
		RedirectURI:    envOrDefault("KROGER_REDIRECT_URI", "http://localhost:3000"),
		Scopes:         envOrDefault("KROGER_SCOPES", DefaultScopes),
		TokenFile:      os.Getenv("KROGER_TOKEN_FILE"),
		TokenStorage:   strings.ToLower(envOrDefault("KROGER_TOKEN_STORAGE", "auto")),
		RequestTimeout: 30 * time.Second,
	}

	if cfg.TokenFile == "" {
		cfg.TokenFile = defaultTokenFile()
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, model.NewConfigError("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromSecretManager fetches app credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Credentials); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads app credentials from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.Credentials = Credentials{
		ClientID:     os.Getenv("KROGER_CLIENT_ID"),
		ClientSecret: os.Getenv("KROGER_CLIENT_SECRET"),
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.APIEnv != EnvProd && c.APIEnv != EnvCert {
		return model.NewConfigError(fmt.Sprintf("KROGER_ENV must be %s or %s", EnvProd, EnvCert))
	}
	if c.Credentials.ClientID == "" {
		return model.NewConfigError("KROGER_CLIENT_ID not set; export it or put it in a .env file")
	}
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return model.NewConfigError("invalid redirect URI: " + c.RedirectURI)
	}
	switch c.TokenStorage {
	case "auto", "file", "keyring":
	default:
		return model.NewConfigError("KROGER_TOKEN_STORAGE must be auto, file, or keyring")
	}
	return nil
}

// baseDomain returns the API host for the configured environment.
func (c *Config) baseDomain() string {
	if c.APIEnv == EnvCert {
		return "api-ce.kroger.com"
	}
	return "api.kroger.com"
}

// APIBase returns the versioned API base URL.
func (c *Config) APIBase() string {
	return "https://" + c.baseDomain() + "/v1"
}

// AuthURL returns the browser authorization endpoint.
func (c *Config) AuthURL() string {
	return "https://" + c.baseDomain() + "/v1/connect/oauth2/authorize"
}

// TokenURL returns the token exchange endpoint.
func (c *Config) TokenURL() string {
	return "https://" + c.baseDomain() + "/v1/connect/oauth2/token"
}

// defaultTokenFile places tokens under the user config dir, falling back to
// the working directory when the home dir cannot be resolved.
func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tokens.json"
	}
	return filepath.Join(dir, "kroger-cart", "tokens.json")
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
