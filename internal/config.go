package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vault/internal/page"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store drivers.
const (
	StoreDriverFile  = "file"
	StoreDriverRedis = "redis"
)

// Render modes.
const (
	RenderModeStatic  = "static"
	RenderModeBrowser = "browser"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Render    RenderConfig      `yaml:"render"`
	Highlight HighlightConfig   `yaml:"highlight"`
	CORS      CORSConfig        `yaml:"cors"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	return c.Highlight.Validate()
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

// StoreConfig selects where the highlight collection lives.
//
// The file driver keeps one JSON document at Path and watches it for outside
// edits. The redis driver keeps the same document under Redis.Key.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds the redis store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = StoreDriverFile
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(StoreDriverFile, StoreDriverRedis)),
		validation.Field(&c.Path, validation.When(c.Driver == StoreDriverFile, validation.Required)),
		validation.Field(&c.Redis, validation.When(c.Driver == StoreDriverRedis,
			validation.By(func(any) error {
				return validation.ValidateStruct(&c.Redis,
					validation.Field(&c.Redis.Addr, validation.Required),
					validation.Field(&c.Redis.DB, validation.Min(0)),
				)
			}))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
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

// RenderConfig controls how pages are fetched for the annotated view.
type RenderConfig struct {
	// Mode is "static" (plain HTTP fetch) or "browser" (headless Chrome).
	Mode          string        `yaml:"mode"`
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	RateLimit     float64       `yaml:"rate_limit"`
	Burst         int           `yaml:"burst"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	RespectRobots bool          `yaml:"respect_robots"`
	// SettleTimeout bounds the wait for retries and the delayed reapply.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
	Browser       BrowserConfig `yaml:"browser"`
}

// BrowserConfig holds headless browser settings. An empty ControlURL launches
// a local Chrome.
type BrowserConfig struct {
	ControlURL string `yaml:"control_url"`
	Stealth    bool   `yaml:"stealth"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = RenderModeStatic
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(RenderModeStatic, RenderModeBrowser)),
		validation.Field(&c.Timeout, validation.Required),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
	)
}

// HighlightConfig holds the re-anchoring timings.
type HighlightConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	OutlineDuration time.Duration `yaml:"outline_duration"`
	ReapplyDelay    time.Duration `yaml:"reapply_delay"`
}

// Validate validates the highlight configuration.
func (c *HighlightConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryDelay, validation.Required),
		validation.Field(&c.OutlineDuration, validation.Required),
		validation.Field(&c.ReapplyDelay, validation.Required),
	)
}

// PageConfig converts c for the page package.
func (c *HighlightConfig) PageConfig() page.Config {
	return page.Config{
		MaxAttempts:     c.MaxAttempts,
		RetryDelay:      c.RetryDelay,
		OutlineDuration: c.OutlineDuration,
		ReapplyDelay:    c.ReapplyDelay,
	}
}

// CORSConfig lists the origins (e.g. extension pages) allowed to call the API.
// An empty list disables CORS handling.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	pc := page.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Driver: StoreDriverFile,
			Path:   "./data/highlights.json",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		SQLite: SQLiteConfig{
			Path: "./data/vault.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Render: RenderConfig{
			Mode:          RenderModeStatic,
			Timeout:       15 * time.Second,
			RateLimit:     1,
			Burst:         2,
			CacheTTL:      5 * time.Minute,
			RespectRobots: true,
		},
		Highlight: HighlightConfig{
			MaxAttempts:     pc.MaxAttempts,
			RetryDelay:      pc.RetryDelay,
			OutlineDuration: pc.OutlineDuration,
			ReapplyDelay:    pc.ReapplyDelay,
		},
	}
}
