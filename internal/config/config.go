package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Identity provider names.
const (
	ProviderOIDC   = "oidc"
	ProviderStatic = "static"
)

// Config represents the complete application configuration
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Identity  IdentityConfig  `yaml:"identity"`
	Session   SessionConfig   `yaml:"session"`
	Directory DirectoryConfig `yaml:"directory"`
	Client    ClientConfig    `yaml:"client"`
	TLS       TLSConfig       `yaml:"tls"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig defines where the directory daemon listens
type ListenConfig struct {
	HTTP   string `yaml:"http"`   // status server address (e.g., ":9000")
	Socket string `yaml:"socket"` // directory Unix socket path
}

// IdentityConfig selects and configures the login backend
type IdentityConfig struct {
	Provider     string       `yaml:"provider"`      // oidc or static
	LoginTimeout int          `yaml:"login_timeout"` // seconds
	OIDC         OIDCConfig   `yaml:"oidc"`
	StaticUsers  []StaticUser `yaml:"static_users"`
}

// OIDCConfig defines OIDC/OAuth2 settings
type OIDCConfig struct {
	Issuer        string   `yaml:"issuer"`         // issuer URL
	ClientID      string   `yaml:"client_id"`      // OIDC client ID
	ClientSecret  string   `yaml:"client_secret"`  // empty for public clients
	Scopes        []string `yaml:"scopes"`         // OIDC scopes
	RequiredRoles []string `yaml:"required_roles"` // at least one is required to log in
	RoleClaim     string   `yaml:"role_claim"`     // JSON path to roles in token
	UsernameClaim string   `yaml:"username_claim"` // must match the login for password grants
	UserIDClaim   string   `yaml:"user_id_claim"`  // claim used as the rendezvous user ID
}

// StaticUser is a development account for the static provider
type StaticUser struct {
	Login       string `yaml:"login"`
	Token       string `yaml:"token"`
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
}

// SessionConfig defines the hosted session slot and levels
type SessionConfig struct {
	Name             string `yaml:"name"`               // logical session slot name
	Keyword          string `yaml:"keyword"`            // discovery keyword
	MaxPlayers       int    `yaml:"max_players"`        // public capacity, host included
	MaxSearchResults int    `yaml:"max_search_results"` // 0 = directory default
	HostAddress      string `yaml:"host_address"`       // connect string advertised when hosting
	HostLevel        string `yaml:"host_level"`
	LobbyLevel       string `yaml:"lobby_level"`
	RequireLogin     bool   `yaml:"require_login"`
}

// DirectoryConfig bounds the directory store
type DirectoryConfig struct {
	SessionTTL          int `yaml:"session_ttl"` // seconds
	MaxSessions         int `yaml:"max_sessions"`
	MaxSessionsPerOwner int `yaml:"max_sessions_per_owner"`
	MaxResults          int `yaml:"max_results"`
	RequestTimeout      int `yaml:"request_timeout"` // seconds, client side
}

// ClientConfig defines host/find command behavior
type ClientConfig struct {
	LocalUser        int    `yaml:"local_user"`
	CredentialsFile  string `yaml:"credentials_file"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
	TravelFile       string `yaml:"travel_file"`       // written with the connect address after travel
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP:   ":9000",
			Socket: "/run/session-rendezvous/directory.sock",
		},
		Identity: IdentityConfig{
			Provider:     ProviderOIDC,
			LoginTimeout: 30,
			OIDC: OIDCConfig{
				Scopes:        []string{"openid", "profile"},
				RoleClaim:     "realm_access.roles",
				UsernameClaim: "preferred_username",
				UserIDClaim:   "sub",
			},
		},
		Session: SessionConfig{
			Name:         "SessionName",
			Keyword:      "Custom",
			MaxPlayers:   4,
			HostAddress:  "127.0.0.1:7777",
			HostLevel:    "/Game/ThirdPerson/Maps/ThirdPersonMap",
			LobbyLevel:   "/Game/ThirdPerson/Maps/ThirdPersonMap",
			RequireLogin: true,
		},
		Directory: DirectoryConfig{
			SessionTTL:          3600, // 1 hour
			MaxSessions:         10000,
			MaxSessionsPerOwner: 4,
			MaxResults:          50,
			RequestTimeout:      10,
		},
		Client: ClientConfig{
			HandshakeTimeout: 60,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Identity overrides
	if v := os.Getenv("RENDEZVOUS_IDENTITY_PROVIDER"); v != "" {
		c.Identity.Provider = v
	}
	if v := os.Getenv("RENDEZVOUS_OIDC_ISSUER"); v != "" {
		c.Identity.OIDC.Issuer = v
	}
	if v := os.Getenv("RENDEZVOUS_OIDC_CLIENT_ID"); v != "" {
		c.Identity.OIDC.ClientID = v
	}
	if v := os.Getenv("RENDEZVOUS_OIDC_CLIENT_SECRET"); v != "" {
		c.Identity.OIDC.ClientSecret = v
	}

	// Session overrides
	if v := os.Getenv("RENDEZVOUS_SESSION_NAME"); v != "" {
		c.Session.Name = v
	}
	if v := os.Getenv("RENDEZVOUS_SESSION_KEYWORD"); v != "" {
		c.Session.Keyword = v
	}
	if v := os.Getenv("RENDEZVOUS_SESSION_HOST_ADDRESS"); v != "" {
		c.Session.HostAddress = v
	}
	if v := os.Getenv("RENDEZVOUS_SESSION_REQUIRE_LOGIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.RequireLogin = b
		} else {
			slog.Warn("ignoring invalid RENDEZVOUS_SESSION_REQUIRE_LOGIN", "value", v)
		}
	}

	// Log overrides
	if v := os.Getenv("RENDEZVOUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RENDEZVOUS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("RENDEZVOUS_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
	if v := os.Getenv("RENDEZVOUS_LISTEN_SOCKET"); v != "" {
		c.Listen.Socket = v
	}
}

// Validate checks the sections shared by the daemon and the clients.
// Identity settings are checked separately by ValidateIdentity.
func (c *Config) Validate() error {
	// Validate session config
	if c.Session.Name == "" {
		return fmt.Errorf("session.name is required")
	}
	if c.Session.Keyword == "" {
		return fmt.Errorf("session.keyword is required")
	}
	if c.Session.MaxPlayers < 2 {
		return fmt.Errorf("session.max_players must be at least 2")
	}
	if c.Session.MaxSearchResults < 0 {
		return fmt.Errorf("session.max_search_results must not be negative")
	}

	// Validate directory config
	if c.Directory.SessionTTL <= 0 {
		return fmt.Errorf("directory.session_ttl must be positive")
	}
	if c.Directory.SessionTTL > 86400 {
		return fmt.Errorf("directory.session_ttl should not exceed 86400 seconds (1 day)")
	}
	if c.Directory.MaxSessions < 0 || c.Directory.MaxSessionsPerOwner < 0 || c.Directory.MaxResults < 0 {
		return fmt.Errorf("directory limits must not be negative")
	}
	if c.Directory.RequestTimeout <= 0 {
		return fmt.Errorf("directory.request_timeout must be positive")
	}

	// Validate client config
	if c.Client.HandshakeTimeout <= 0 {
		return fmt.Errorf("client.handshake_timeout must be positive")
	}
	if c.Client.LocalUser < 0 {
		return fmt.Errorf("client.local_user must not be negative")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}
	if c.Listen.Socket == "" {
		return fmt.Errorf("listen.socket is required")
	}

	return nil
}

// ValidateIdentity checks the identity section, needed by the host and
// find commands.
func (c *Config) ValidateIdentity() error {
	if c.Identity.LoginTimeout <= 0 {
		return fmt.Errorf("identity.login_timeout must be positive")
	}
	if c.Session.HostAddress == "" {
		return fmt.Errorf("session.host_address is required")
	}

	switch c.Identity.Provider {
	case ProviderStatic:
		if len(c.Identity.StaticUsers) == 0 {
			return fmt.Errorf("identity.static_users must not be empty for the static provider")
		}
		seen := make(map[string]bool, len(c.Identity.StaticUsers))
		for i, u := range c.Identity.StaticUsers {
			if u.Login == "" || u.Token == "" {
				return fmt.Errorf("identity.static_users[%d]: login and token are required", i)
			}
			if seen[u.Login] {
				return fmt.Errorf("identity.static_users[%d]: duplicate login %q", i, u.Login)
			}
			seen[u.Login] = true
		}
		return nil

	case ProviderOIDC:
		return c.Identity.OIDC.validate()

	default:
		return fmt.Errorf("identity.provider must be one of: oidc, static")
	}
}

func (o *OIDCConfig) validate() error {
	if o.Issuer == "" {
		return fmt.Errorf("identity.oidc.issuer is required")
	}
	if !strings.HasPrefix(o.Issuer, "http://") && !strings.HasPrefix(o.Issuer, "https://") {
		return fmt.Errorf("identity.oidc.issuer must be a valid HTTP(S) URL")
	}

	if o.ClientID == "" {
		return fmt.Errorf("identity.oidc.client_id is required")
	}

	if len(o.Scopes) == 0 {
		return fmt.Errorf("identity.oidc.scopes must contain at least 'openid'")
	}
	hasOpenID := false
	for _, scope := range o.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("identity.oidc.scopes must include 'openid'")
	}

	if o.UserIDClaim == "" {
		return fmt.Errorf("identity.oidc.user_id_claim is required")
	}
	if len(o.RequiredRoles) > 0 && o.RoleClaim == "" {
		return fmt.Errorf("identity.oidc.role_claim is required when required_roles is set")
	}

	return nil
}

// LoginTimeout returns identity.login_timeout as a duration.
func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.Identity.LoginTimeout) * time.Second
}

// SessionTTL returns directory.session_ttl as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Directory.SessionTTL) * time.Second
}

// RequestTimeout returns directory.request_timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Directory.RequestTimeout) * time.Second
}

// HandshakeTimeout returns client.handshake_timeout as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Client.HandshakeTimeout) * time.Second
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	redacted.Identity.OIDC.Scopes = append([]string(nil), c.Identity.OIDC.Scopes...)
	redacted.Identity.OIDC.RequiredRoles = append([]string(nil), c.Identity.OIDC.RequiredRoles...)
	if redacted.Identity.OIDC.ClientSecret != "" {
		redacted.Identity.OIDC.ClientSecret = "[REDACTED]"
	}

	if c.Identity.StaticUsers != nil {
		redacted.Identity.StaticUsers = make([]StaticUser, len(c.Identity.StaticUsers))
		for i, u := range c.Identity.StaticUsers {
			if u.Token != "" {
				u.Token = "[REDACTED]"
			}
			redacted.Identity.StaticUsers[i] = u
		}
	}
	return &redacted
}
