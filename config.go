package linkauth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends understood by OpenStore callers
const (
	BackendFS       = "fs"
	BackendGorm     = "gorm"
	BackendPostgres = "postgres"
	BackendGAE      = "gae"
)

// Config is the explicit configuration passed to constructors instead of
// reading globals. Zero values are filled in by EnsureDefaults.
type Config struct {
	AppName string `yaml:"app_name"`

	Storage      StorageConfig      `yaml:"storage"`
	Session      SessionConfig      `yaml:"session"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	OpenID       OpenIDConfig       `yaml:"openid"`
	Facebook     FacebookConfig     `yaml:"facebook"`
	Log          LogConfig          `yaml:"log"`

	// CacheTTL enables the account lookup cache when positive
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`

	// Path is the root directory of the fs backend
	Path string `yaml:"path"`

	// DSN is the connection string of the gorm and postgres backends
	DSN string `yaml:"dsn"`

	// ProjectID and Namespace select the Datastore database of the gae backend
	ProjectID string `yaml:"project_id"`
	Namespace string `yaml:"namespace"`
}

type SessionConfig struct {
	JWTSecretKey   string   `yaml:"jwt_secret_key"`
	JWTIssuer      string   `yaml:"jwt_issuer"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	CookieDomains  []string `yaml:"cookie_domains"`

	// AddLoginRedirectURL receives ?add_login=true|false after link mode
	AddLoginRedirectURL string `yaml:"add_login_redirect_url"`
	LoginRedirectURL    string `yaml:"login_redirect_url"`
	LoginPageURL        string `yaml:"login_page_url"`
}

type ProvisioningConfig struct {
	MaxRaceRetries      int   `yaml:"max_race_retries"`
	MaxUsernameAttempts int   `yaml:"max_username_attempts"`
	AuditNode           int64 `yaml:"audit_node"`
}

type OpenIDConfig struct {
	// BackfillEmail defaults to true
	BackfillEmail        *bool    `yaml:"backfill_email"`
	GoogleEndpoints      []string `yaml:"google_endpoints"`
	SkipCrossDomainMerge bool     `yaml:"skip_cross_domain_merge"`
}

type FacebookConfig struct {
	AppID       string `yaml:"app_id"`
	AppSecret   string `yaml:"app_secret"`
	CallbackURL string `yaml:"callback_url"`
	GraphURL    string `yaml:"graph_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EnsureDefaults fills in unset values
func (c *Config) EnsureDefaults() *Config {
	if c.AppName == "" {
		c.AppName = "LinkAuth"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFS
	}
	if c.Storage.Backend == BackendFS && c.Storage.Path == "" {
		c.Storage.Path = "./data"
	}
	if c.Session.TimeoutSeconds <= 0 {
		c.Session.TimeoutSeconds = 86400
	}
	if c.Session.JWTIssuer == "" {
		c.Session.JWTIssuer = fmt.Sprintf("%s-Issuer", c.AppName)
	}
	if c.Session.AddLoginRedirectURL == "" {
		c.Session.AddLoginRedirectURL = "/profile"
	}
	if c.Session.LoginRedirectURL == "" {
		c.Session.LoginRedirectURL = "/"
	}
	if c.Session.LoginPageURL == "" {
		c.Session.LoginPageURL = "/login"
	}
	if c.Provisioning.MaxRaceRetries <= 0 {
		c.Provisioning.MaxRaceRetries = DefaultMaxRaceRetries
	}
	if c.Provisioning.MaxUsernameAttempts <= 0 {
		c.Provisioning.MaxUsernameAttempts = DefaultMaxUsernameAttempts
	}
	if c.Provisioning.AuditNode <= 0 {
		c.Provisioning.AuditNode = 1
	}
	if c.OpenID.BackfillEmail == nil {
		enabled := true
		c.OpenID.BackfillEmail = &enabled
	}
	if len(c.OpenID.GoogleEndpoints) == 0 {
		c.OpenID.GoogleEndpoints = []string{DefaultGoogleEndpoint}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	return c
}

// Validate reports configuration that cannot work
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFS:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the fs backend")
		}
	case BackendGorm, BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s backend", c.Storage.Backend)
		}
	case BackendGAE:
		if c.Storage.ProjectID == "" {
			return fmt.Errorf("storage.project_id is required for the gae backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Session.JWTSecretKey) == "" {
		return fmt.Errorf("session.jwt_secret_key is required")
	}
	if c.Provisioning.AuditNode > 1023 {
		return fmt.Errorf("provisioning.audit_node must be between 0 and 1023")
	}
	return nil
}

// LoadConfig reads .env (if present), then the YAML file at path (if any),
// then LINKAUTH_* environment overrides, and fills in defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("LINKAUTH_APP_NAME", &c.AppName)
	setString("LINKAUTH_STORAGE_BACKEND", &c.Storage.Backend)
	setString("LINKAUTH_STORAGE_PATH", &c.Storage.Path)
	setString("LINKAUTH_DATABASE_URL", &c.Storage.DSN)
	setString("LINKAUTH_GCP_PROJECT", &c.Storage.ProjectID)
	setString("LINKAUTH_DATASTORE_NAMESPACE", &c.Storage.Namespace)
	setString("LINKAUTH_JWT_SECRET_KEY", &c.Session.JWTSecretKey)
	setString("LINKAUTH_FACEBOOK_APP_ID", &c.Facebook.AppID)
	setString("LINKAUTH_FACEBOOK_APP_SECRET", &c.Facebook.AppSecret)
	setString("LINKAUTH_FACEBOOK_CALLBACK_URL", &c.Facebook.CallbackURL)
	setString("LINKAUTH_LOG_LEVEL", &c.Log.Level)

	if v := strings.TrimSpace(os.Getenv("LINKAUTH_AUDIT_NODE")); v != "" {
		node, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LINKAUTH_AUDIT_NODE: %w", err)
		}
		c.Provisioning.AuditNode = node
	}
	return nil
}

// NewProvisionerFromConfig builds a provisioner with the configured limits
func NewProvisionerFromConfig(cfg *Config, store Store, metrics *Metrics) (*Provisioner, error) {
	cfg.EnsureDefaults()
	if err := SetAuditNode(cfg.Provisioning.AuditNode); err != nil {
		return nil, fmt.Errorf("failed to set audit node: %w", err)
	}
	p := &Provisioner{
		Store:               store,
		Metrics:             metrics,
		MaxRaceRetries:      cfg.Provisioning.MaxRaceRetries,
		MaxUsernameAttempts: cfg.Provisioning.MaxUsernameAttempts,
	}
	return p.EnsureDefaults(), nil
}

// NewServiceFromConfig registers all four authenticators. The Twitter and
// LinkedIn profile sources may be nil when only verified profiles are passed in.
func NewServiceFromConfig(cfg *Config, p *Provisioner, facebook FacebookClient, twitter TwitterProfileSource, linkedin LinkedInProfileSource) *Service {
	cfg.EnsureDefaults()
	openid := NewOpenIDAuthenticator(p).WithBackfill(*cfg.OpenID.BackfillEmail)
	openid.GoogleEndpoints = cfg.OpenID.GoogleEndpoints
	openid.SkipCrossDomainMerge = cfg.OpenID.SkipCrossDomainMerge

	svc := NewService(p).
		Register(openid).
		Register(NewTwitterAuthenticator(p, twitter)).
		Register(NewLinkedInAuthenticator(p, linkedin)).
		Register(NewFacebookAuthenticator(p, facebook))
	if cfg.CacheTTL > 0 {
		svc.Cache = NewAccountCache(cfg.CacheTTL)
	}
	return svc
}
