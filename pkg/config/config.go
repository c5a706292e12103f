package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Import modes.
const (
	ModeAll     = "all"
	ModeChanged = "changed"
)

// Change detection sources.
const (
	ChangeSourceGit    = "git"
	ChangeSourceGitHub = "github"
)

// Config is the root configuration for importoor.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Import    ImportConfig    `yaml:"import"`
	Changes   ChangesConfig   `yaml:"changes"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Server    ServerConfig    `yaml:"server"`
}

// GatewayConfig identifies the target API Management instance and the
// credentials used against the management plane.
type GatewayConfig struct {
	SubscriptionID string  `yaml:"subscription_id"`
	ResourceGroup  string  `yaml:"resource_group"`
	ServiceName    string  `yaml:"service_name"`
	TenantID       string  `yaml:"tenant_id"`
	ClientID       string  `yaml:"client_id"`
	ClientSecret   string  `yaml:"client_secret"`
	APIVersion     string  `yaml:"api_version"`
	VersionHeader  string  `yaml:"version_header"`
	RateLimit      float64 `yaml:"rate_limit"` // management calls per second
}

// ImportConfig contains run-level import settings.
type ImportConfig struct {
	Mode        string        `yaml:"mode"` // all or changed
	SpecsDir    string        `yaml:"specs_dir"`
	Extensions  []string      `yaml:"extensions"`
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	ItemTimeout time.Duration `yaml:"item_timeout"`
}

// ChangesConfig selects how changed spec files are detected in changed mode.
type ChangesConfig struct {
	Source   string             `yaml:"source"` // git or github
	RepoPath string             `yaml:"repo_path"`
	GitHub   GitHubSourceConfig `yaml:"github"`
}

// GitHubSourceConfig contains settings for API-based change detection,
// used when the run has no local checkout.
type GitHubSourceConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	SHA   string `yaml:"sha"`
}

// ArtifactsConfig contains blob storage settings for uploading imported
// spec documents as run artifacts.
type ArtifactsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// ServerConfig contains the optional ops endpoint settings.
type ServerConfig struct {
	MetricsListen string `yaml:"metrics_listen"` // empty disables the endpoint
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables.
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults.
	applyDefaults(&cfg)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} and $VAR patterns with environment variable values.
func expandEnvVars(s string) string {
	// Match ${VAR} pattern.
	re := regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	// Match $VAR pattern (only at word boundaries).
	re = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	return s
}

// applyDefaults sets default values for unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.APIVersion == "" {
		cfg.Gateway.APIVersion = "2021-08-01"
	}

	if cfg.Gateway.VersionHeader == "" {
		cfg.Gateway.VersionHeader = "X-API-VERSION"
	}

	if cfg.Gateway.RateLimit == 0 {
		cfg.Gateway.RateLimit = 5
	}

	if cfg.Import.Mode == "" {
		cfg.Import.Mode = ModeAll
	}

	if cfg.Import.SpecsDir == "" {
		cfg.Import.SpecsDir = "./apis"
	}

	if len(cfg.Import.Extensions) == 0 {
		cfg.Import.Extensions = []string{".yaml", ".yml", ".json"}
	}

	if cfg.Import.Concurrency == 0 {
		cfg.Import.Concurrency = 4
	}

	if cfg.Import.MaxRetries == 0 {
		cfg.Import.MaxRetries = 3
	}

	if cfg.Import.Backoff == 0 {
		cfg.Import.Backoff = 10 * time.Second
	}

	if cfg.Import.ItemTimeout == 0 {
		cfg.Import.ItemTimeout = 5 * time.Minute
	}

	if cfg.Changes.Source == "" {
		cfg.Changes.Source = ChangeSourceGit
	}

	if cfg.Changes.RepoPath == "" {
		cfg.Changes.RepoPath = "."
	}

	if cfg.Changes.GitHub.SHA == "" {
		cfg.Changes.GitHub.SHA = os.Getenv("GITHUB_SHA")
	}

	if cfg.Artifacts.Region == "" {
		cfg.Artifacts.Region = "us-east-1"
	}
}

// Validate checks the configuration for errors. The deployment target identity
// must be complete before any item is dispatched.
func (c *Config) Validate() error {
	if c.Gateway.SubscriptionID == "" {
		return fmt.Errorf("gateway.subscription_id is required")
	}

	if c.Gateway.ResourceGroup == "" {
		return fmt.Errorf("gateway.resource_group is required")
	}

	if c.Gateway.ServiceName == "" {
		return fmt.Errorf("gateway.service_name is required")
	}

	if c.Gateway.TenantID == "" {
		return fmt.Errorf("gateway.tenant_id is required")
	}

	if c.Gateway.ClientID == "" || c.Gateway.ClientSecret == "" {
		return fmt.Errorf("gateway.client_id and gateway.client_secret are required")
	}

	switch c.Import.Mode {
	case ModeAll, ModeChanged:
	default:
		return fmt.Errorf("unsupported import mode: %s", c.Import.Mode)
	}

	if c.Import.Concurrency < 1 {
		return fmt.Errorf("import.concurrency must be at least 1")
	}

	if c.Import.MaxRetries < 1 {
		return fmt.Errorf("import.max_retries must be at least 1")
	}

	if c.Import.Mode == ModeChanged {
		switch c.Changes.Source {
		case ChangeSourceGit:
			if c.Changes.RepoPath == "" {
				return fmt.Errorf("changes.repo_path is required when source is git")
			}
		case ChangeSourceGitHub:
			if c.Changes.GitHub.Owner == "" || c.Changes.GitHub.Repo == "" {
				return fmt.Errorf("changes.github.owner and changes.github.repo are required when source is github")
			}

			if c.Changes.GitHub.SHA == "" {
				return fmt.Errorf("changes.github.sha is required when source is github")
			}
		default:
			return fmt.Errorf("unsupported change source: %s", c.Changes.Source)
		}
	}

	if c.Artifacts.Enabled {
		if c.Artifacts.Endpoint == "" {
			return fmt.Errorf("artifacts.endpoint is required when artifacts are enabled")
		}

		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required when artifacts are enabled")
		}

		if c.Artifacts.AccessKey == "" || c.Artifacts.SecretKey == "" {
			return fmt.Errorf("artifacts.access_key and artifacts.secret_key are required when artifacts are enabled")
		}
	}

	return nil
}

// String returns a sanitized string representation of the config (no secrets).
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Gateway: service=%s resource_group=%s api_version=%s\n",
		c.Gateway.ServiceName, c.Gateway.ResourceGroup, c.Gateway.APIVersion))
	sb.WriteString(fmt.Sprintf("Import: mode=%s specs_dir=%s concurrency=%d max_retries=%d backoff=%s\n",
		c.Import.Mode, c.Import.SpecsDir, c.Import.Concurrency, c.Import.MaxRetries, c.Import.Backoff))
	sb.WriteString(fmt.Sprintf("Changes: source=%s\n", c.Changes.Source))
	sb.WriteString(fmt.Sprintf("Artifacts: enabled=%t bucket=%s\n", c.Artifacts.Enabled, c.Artifacts.Bucket))

	if c.Server.MetricsListen != "" {
		sb.WriteString(fmt.Sprintf("Server: metrics_listen=%s\n", c.Server.MetricsListen))
	}

	return sb.String()
}
