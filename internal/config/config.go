// Package config loads and validates the registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the FORC_ prefix (e.g. FORC_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// RUN_ENV has no FORC_ prefix because it is read directly by cmd/server before
// the rest of configuration loads, to decide whether the blob mirror and index
// publisher are exercised at all ("local" mode skips both).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Blob       BlobConfig       `mapstructure:"blob"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Index      IndexConfig      `mapstructure:"index"`
	Toolchain  ToolchainConfig  `mapstructure:"toolchain"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Audit      AuditConfig      `mapstructure:"audit"`
	RunEnv     string           `mapstructure:"-"`
}

// IsLocal reports whether the server is running in local development mode,
// where the blob mirror and index git publish steps are both skipped.
func (c *Config) IsLocal() bool {
	return c.RunEnv == "local"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and
// links embedded in published index entries. When server.public_url is set
// it is returned as-is; otherwise it falls back to server.base_url. This
// distinction matters in reverse-proxied deployments where the internal
// listen address (base_url) differs from the externally visible hostname.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// GetAddress returns the server listen address in host:port format.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// BlobConfig holds configuration for the two blob destinations a published
// archive is written to: the IPFS pin and its S3 mirror. GatewayURL is the
// public IPFS gateway used to turn stored CIDs into fetchable URLs in API
// responses.
type BlobConfig struct {
	IPFS       IPFSConfig `mapstructure:"ipfs"`
	Mirror     S3Config   `mapstructure:"mirror"`
	GatewayURL string     `mapstructure:"gateway_url"`
}

// IPFSConfig holds the address of the IPFS HTTP API used to add and pin blobs.
type IPFSConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// S3Config holds the S3-compatible mirror bucket configuration. AuthMethod
// selects one of the supported AWS credential strategies:
//   - "default": AWS default credential chain (env vars, shared config, IAM role)
//   - "static": explicit access key and secret key
//   - "assume_role": AssumeRole, optionally with an external ID for cross-account access
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GitHubConfig holds the OAuth application credentials used for the browser
// login flow, plus the lifetime of the sessions that flow creates.
type GitHubConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	Scopes       []string      `mapstructure:"scopes"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// IndexConfig holds the git remote and author identity used to publish
// package entries to the index repository.
type IndexConfig struct {
	RepoURL        string        `mapstructure:"repo_url"`
	Branch         string        `mapstructure:"branch"`
	CloneDir       string        `mapstructure:"clone_dir"`
	AuthorName     string        `mapstructure:"author_name"`
	AuthorEmail    string        `mapstructure:"author_email"`
	SSHKey         string        `mapstructure:"ssh_key"`
	SSHKeyPath     string        `mapstructure:"ssh_key_path"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// Namespace is one of "flat" or "domain:<prefix>". A domain namespace
	// prepends <prefix> to every index file path; flat omits it.
	Namespace string `mapstructure:"namespace"`

	// ChunkSize is the character-width of each path segment the package
	// name is split into before the final file component. 0 disables
	// chunking and stores the file directly under the namespace prefix.
	ChunkSize int `mapstructure:"chunk_size"`
}

// ToolchainConfig controls how forc/forc-doc binaries are installed and
// invoked inside the per-publish sandbox.
type ToolchainConfig struct {
	InstallDir     string        `mapstructure:"install_dir"`
	DownloadURL    string        `mapstructure:"download_url"`
	DefaultVersion string        `mapstructure:"default_version"`
	BuildTimeout   time.Duration `mapstructure:"build_timeout"`
	DocTimeout     time.Duration `mapstructure:"doc_timeout"`
}

// SecurityConfig groups CORS and rate-limiting policy.
type SecurityConfig struct {
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limiting"`
	TLS         TLSConfig         `mapstructure:"tls"`
}

// CORSConfig controls which browser origins may call the API with credentials.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitConfig holds the default requests-per-minute policy; login and
// upload_project endpoints apply their own stricter overrides (see
// internal/middleware/ratelimit.go).
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig controls whether the server terminates TLS itself (normally
// false behind a reverse proxy).
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig controls the slog handler installed at startup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig controls the Prometheus metrics side-channel.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	ProfilingPort  int    `mapstructure:"profiling_port"`
	EnableProfiler bool   `mapstructure:"enable_profiler"`
}

// AuditConfig controls where audit log entries (logins, publishes, token
// creation/revocation) are shipped in addition to the primary app log.
type AuditConfig struct {
	Enabled  bool               `mapstructure:"enabled"`
	Shippers []AuditShipperCfg  `mapstructure:"shippers"`
}

// AuditShipperCfg configures one audit log destination.
type AuditShipperCfg struct {
	Enabled bool              `mapstructure:"enabled"`
	Type    string            `mapstructure:"type"`
	Webhook *AuditWebhookCfg  `mapstructure:"webhook"`
	File    *AuditFileCfg     `mapstructure:"file"`
}

// AuditWebhookCfg configures a webhook audit shipper.
type AuditWebhookCfg struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// AuditFileCfg configures a file audit shipper.
type AuditFileCfg struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		"blob.ipfs.api_url",
		"blob.ipfs.timeout",
		"blob.gateway_url",
		"blob.mirror.endpoint",
		"blob.mirror.region",
		"blob.mirror.bucket",
		"blob.mirror.auth_method",
		"blob.mirror.access_key_id",
		"blob.mirror.secret_access_key",
		"blob.mirror.role_arn",
		"blob.mirror.role_session_name",
		"blob.mirror.external_id",

		"github.client_id",
		"github.client_secret",
		"github.redirect_url",
		"github.scopes",
		"github.session_ttl",

		"index.repo_url",
		"index.branch",
		"index.clone_dir",
		"index.author_name",
		"index.author_email",
		"index.ssh_key",
		"index.ssh_key_path",
		"index.publish_timeout",
		"index.namespace",
		"index.chunk_size",

		"toolchain.install_dir",
		"toolchain.download_url",
		"toolchain.default_version",
		"toolchain.build_timeout",
		"toolchain.doc_timeout",

		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		"logging.level",
		"logging.format",
		"logging.output",

		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics_port",
		"telemetry.profiling_port",
		"telemetry.enable_profiler",

		"audit.enabled",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/forc-registry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables still apply.
	}

	v.SetEnvPrefix("FORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Blob.Mirror.AccessKeyID = expandEnv(cfg.Blob.Mirror.AccessKeyID)
	cfg.Blob.Mirror.SecretAccessKey = expandEnv(cfg.Blob.Mirror.SecretAccessKey)
	cfg.GitHub.ClientSecret = expandEnv(cfg.GitHub.ClientSecret)
	cfg.Index.SSHKey = expandEnv(cfg.Index.SSHKey)

	cfg.RunEnv = os.Getenv("RUN_ENV")
	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "forc_registry")
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("blob.ipfs.api_url", "http://localhost:5001")
	v.SetDefault("blob.ipfs.timeout", "60s")
	v.SetDefault("blob.gateway_url", "https://ipfs.io")
	v.SetDefault("blob.mirror.auth_method", "default")

	v.SetDefault("github.redirect_url", "")
	v.SetDefault("github.scopes", []string{"read:user", "user:email"})
	v.SetDefault("github.session_ttl", "168h")

	v.SetDefault("index.branch", "main")
	v.SetDefault("index.clone_dir", "./data/index")
	v.SetDefault("index.author_name", "forc-registry")
	v.SetDefault("index.author_email", "registry@forc-pub.invalid")
	v.SetDefault("index.publish_timeout", "2m")
	v.SetDefault("index.namespace", "flat")
	v.SetDefault("index.chunk_size", 2)

	v.SetDefault("toolchain.install_dir", "./data/toolchains")
	v.SetDefault("toolchain.default_version", "0.63.3")
	v.SetDefault("toolchain.build_timeout", "2m")
	v.SetDefault("toolchain.doc_timeout", "2m")

	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "forc-registry")
	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.profiling_port", 6060)
	v.SetDefault("telemetry.enable_profiler", false)

	v.SetDefault("audit.enabled", true)
}

// expandEnv expands environment variables in the format ${VAR_NAME}.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// applyLegacyEnv honors the unprefixed environment variables the deploy
// tooling has always set (POSTGRES_*, SSH_KEY, CORS_HTTP_ORIGIN). They
// override the FORC_-prefixed layer when present, like RUN_ENV does.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_URI"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SSH_KEY"); v != "" {
		// A value holding a key body is used verbatim; anything else is
		// treated as a path on disk.
		if strings.Contains(v, "PRIVATE KEY") {
			cfg.Index.SSHKey = v
		} else {
			cfg.Index.SSHKeyPath = v
		}
	}
	if v := os.Getenv("CORS_HTTP_ORIGIN"); v != "" {
		cfg.Security.CORS.AllowedOrigins = []string{v}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if !c.IsLocal() {
		if c.Blob.Mirror.Bucket == "" {
			return fmt.Errorf("blob.mirror.bucket is required unless RUN_ENV=local")
		}
		if c.Blob.Mirror.Region == "" {
			return fmt.Errorf("blob.mirror.region is required unless RUN_ENV=local")
		}
		if c.Index.RepoURL == "" {
			return fmt.Errorf("index.repo_url is required unless RUN_ENV=local")
		}
	}

	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		return fmt.Errorf("github.client_id and github.client_secret are required")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
