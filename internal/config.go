package internal

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/notesync"
	"github.com/starford/gitnote/internal/prefs"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Repo   RepoConfig        `yaml:"repo"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	State  StateConfig       `yaml:"state"`
	Sync   SyncConfig        `yaml:"sync"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Repo.Validate(); err != nil {
		return fmt.Errorf("repo: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RepoConfig describes the repository set up on first start. It is ignored
// once a repository is recorded in the state file.
//
// An empty Path starts the server without a repository; one can then be
// opened through the API.
type RepoConfig struct {
	Path      string `yaml:"path"`
	Mode      string `yaml:"mode"`
	RemoteURL string `yaml:"remote_url"`
	Branch    string `yaml:"branch"`
	Author    string `yaml:"author"`

	// Home holds gateway state such as the known_hosts file.
	Home        string         `yaml:"home"`
	Credentials RepoAuthConfig `yaml:"auth"`
	HTTPTimeout time.Duration  `yaml:"http_timeout"`
}

// Validate validates the repository configuration.
func (c *RepoConfig) Validate() error {
	clone := c.Mode == string(notesync.ModeClone)
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.When(c.Path != "", validation.Required),
			validation.In(string(notesync.ModeCreate), string(notesync.ModeOpen), string(notesync.ModeClone))),
		validation.Field(&c.RemoteURL, validation.When(clone, validation.Required)),
		validation.Field(&c.Home, validation.Required),
		validation.Field(&c.HTTPTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.Credentials.Validate()
}

// Bootstrap returns the options that set up the configured repository.
func (c *RepoConfig) Bootstrap() notesync.BootstrapOptions {
	return notesync.BootstrapOptions{
		Mode:           notesync.BootstrapMode(c.Mode),
		Path:           c.Path,
		RemoteURL:      c.RemoteURL,
		Branch:         c.Branch,
		AuthorName:     c.Author,
		CredentialType: prefs.CredentialType(c.Credentials.Mode),
		Username:       c.Credentials.Username,
		Password:       c.Credentials.Password,
		PrivateKeyFile: c.Credentials.PrivateKeyFile,
		Passphrase:     c.Credentials.Passphrase,
	}
}

// RepoAuthConfig holds the credentials used against the remote.
type RepoAuthConfig struct {
	Mode           string `yaml:"mode"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Passphrase     string `yaml:"passphrase"`
}

// Validate validates the credentials.
func (c *RepoAuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = string(prefs.CredentialNone)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(
			string(prefs.CredentialNone), string(prefs.CredentialBasic), string(prefs.CredentialSSH))),
		validation.Field(&c.Username, validation.When(c.Mode == string(prefs.CredentialBasic), validation.Required)),
		validation.Field(&c.PrivateKeyFile, validation.When(c.Mode == string(prefs.CredentialSSH), validation.Required)),
	)
}

// SQLiteConfig holds SQLite cache configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StateConfig holds the location of the persisted preferences.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig controls the cache rebuild and background synchronization.
type SyncConfig struct {
	Extensions  []string `yaml:"extensions"`
	MaxFileSize int64    `yaml:"max_file_size"`

	// Interval between background syncs; zero disables them.
	Interval      time.Duration `yaml:"interval"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	PushRetries   int           `yaml:"push_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Extensions, validation.Required),
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
		validation.Field(&c.PushRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RetryInterval, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Repo: RepoConfig{
			Home:        "./data/git",
			HTTPTimeout: 30 * time.Second,
			Credentials: RepoAuthConfig{Mode: string(prefs.CredentialNone)},
		},
		SQLite: SQLiteConfig{
			Path: "./data/cache.db",
		},
		State: StateConfig{
			Path: "./data/state.yaml",
		},
		Sync: SyncConfig{
			Extensions:    slices.Clone(index.DefaultExtensions),
			MaxFileSize:   index.DefaultMaxFileSize,
			Interval:      5 * time.Minute,
			Watch:         true,
			WatchDebounce: index.DefaultWatchDebounce,
			PushRetries:   3,
			RetryInterval: time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
