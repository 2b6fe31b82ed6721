package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blink/internal/windows"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// stateDir holds Blink's own files inside the notes directory.
const stateDir = ".blink"

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Notes     NotesConfig       `yaml:"notes"`
	Index     IndexConfig       `yaml:"index"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Windows   WindowsConfig     `yaml:"windows"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Notes.Validate(); err != nil {
		return err
	}
	if err := c.Windows.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// IndexPath returns the SQLite file, defaulting to a file under the
// notes directory.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Notes.Dir, stateDir, "index.db")
}

// WorkspacePath returns the workspace state file, defaulting to a file
// under the notes directory.
func (c *Config) WorkspacePath() string {
	if c.Workspace.Path != "" {
		return c.Workspace.Path
	}
	return filepath.Join(c.Notes.Dir, stateDir, "workspace.json")
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
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotesConfig locates the notes directory.
type NotesConfig struct {
	Dir string `yaml:"dir"`
	// LegacyJSON is a single-file collection migrated on startup when present.
	LegacyJSON string `yaml:"legacy_json"`
	Watch      bool   `yaml:"watch"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// IndexConfig holds SQLite index configuration.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig holds the window state file location.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// WindowsConfig holds detached window placement values.
type WindowsConfig struct {
	DefaultWidth     float64 `yaml:"default_width"`
	DefaultHeight    float64 `yaml:"default_height"`
	DefaultX         float64 `yaml:"default_x"`
	DefaultY         float64 `yaml:"default_y"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
	CascadeOffset    float64 `yaml:"cascade_offset"`
	ShadeHeight      float64 `yaml:"shade_height"`
	MinWidth         float64 `yaml:"min_width"`
	MinHeight        float64 `yaml:"min_height"`
	// RecreateMissing makes reconciliation reopen recorded windows the
	// frontend lost instead of dropping them.
	RecreateMissing bool `yaml:"recreate_missing"`
}

// Validate validates the windows configuration.
func (c *WindowsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultWidth, validation.Required, validation.Min(c.MinWidth)),
		validation.Field(&c.DefaultHeight, validation.Required, validation.Min(c.MinHeight)),
		validation.Field(&c.OverlapThreshold, validation.Min(0.0)),
		validation.Field(&c.CascadeOffset, validation.Required, validation.Min(1.0)),
		validation.Field(&c.ShadeHeight, validation.Required, validation.Min(1.0)),
		validation.Field(&c.MinWidth, validation.Required, validation.Min(1.0)),
		validation.Field(&c.MinHeight, validation.Required, validation.Min(1.0)),
	)
}

// Settings converts the section to window manager settings.
func (c *WindowsConfig) Settings() windows.Settings {
	return windows.Settings{
		DefaultWidth:     c.DefaultWidth,
		DefaultHeight:    c.DefaultHeight,
		DefaultX:         c.DefaultX,
		DefaultY:         c.DefaultY,
		OverlapThreshold: c.OverlapThreshold,
		CascadeOffset:    c.CascadeOffset,
		ShadeHeight:      c.ShadeHeight,
		MinWidth:         c.MinWidth,
		MinHeight:        c.MinHeight,
	}
}

// AuthConfig holds authentication configuration.
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
	// Normalise empty mode to "disabled" for backward compatibility.
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
	d := windows.DefaultSettings()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 7411,
			},
		},
		Notes: NotesConfig{
			Dir:   "./notes",
			Watch: true,
		},
		Windows: WindowsConfig{
			DefaultWidth:     d.DefaultWidth,
			DefaultHeight:    d.DefaultHeight,
			DefaultX:         d.DefaultX,
			DefaultY:         d.DefaultY,
			OverlapThreshold: d.OverlapThreshold,
			CascadeOffset:    d.CascadeOffset,
			ShadeHeight:      d.ShadeHeight,
			MinWidth:         d.MinWidth,
			MinHeight:        d.MinHeight,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
