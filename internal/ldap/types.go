package ldap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
)

// Connection pool limits.
const (
	// MaxConnectionPoolLimit is the maximum allowed sessions in a pool for one identity.
	MaxConnectionPoolLimit = 100

	// DefaultProviderType is the registry key of the built-in go-ldap provider.
	DefaultProviderType = "ldapv3"
)

// Provider option keys produced by ConnectionConfig.ProviderOptions.
const (
	OptionURL               = "url"
	OptionAuthentication    = "authentication"
	OptionReferral          = "referral"
	OptionInitialPoolSize   = "pool.initialSize"
	OptionMaxPoolSize       = "pool.maxSize"
	OptionPoolTimeout       = "pool.timeout"
	OptionTimeout           = "timeout"
	OptionSizeLimit         = "sizeLimit"
	OptionTLSServerName     = "tls.serverName"
	OptionTLSInsecureVerify = "tls.insecureSkipVerify"
	OptionTLSCACertFile     = "tls.caCertFile"
	OptionTLSCACert         = "tls.caCert"
)

// AuthMode selects how a Connection authenticates.
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeSimple AuthMode = "simple"
)

// ReferralPolicy controls how search continuation references are handled.
type ReferralPolicy string

const (
	ReferralFollow ReferralPolicy = "follow"
	ReferralIgnore ReferralPolicy = "ignore"
	ReferralThrow  ReferralPolicy = "throw"
)

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	URL     string        // ldap:// or ldaps:// URL with optional base DN path
	Domain  string        // Domain for SRV discovery when URL is empty
	Type    string        `default:"ldapv3"` // Provider implementation key
	Timeout time.Duration `default:"30s"`    // Dial and read timeout

	// Authentication
	Authentication AuthMode `default:"simple"`

	// Pool settings; the pool is enabled when InitialPoolSize > 0
	InitialPoolSize   int   `default:"1"`
	MaxPoolSize       int   `default:"5"`
	PoolTimeoutMillis int64 `default:"60000"`

	Referral ReferralPolicy `default:"ignore"`

	// Lower precedence than every explicit field above
	ExtendedConfiguration map[string]string

	SchemaEnabled   bool
	SchemaCacheSize int `default:"1000"`

	// TLS settings; TLSEnabled negotiates StartTLS and disables pooling
	TLSEnabled bool
	TLSConfig  *tls.Config

	// Retry settings for establishing sessions
	MaxRetries     int           `default:"2"`
	InitialBackoff time.Duration `default:"500ms"`
	MaxBackoff     time.Duration `default:"10s"`
	BackoffFactor  float64       `default:"2.0"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *ConnectionConfig {
	config := &ConnectionConfig{}
	_ = defaults.Set(config)
	return config
}

// ApplyDefaults fills unset fields from their struct tag defaults.
func (c *ConnectionConfig) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to set default values: %w", err)
	}
	return nil
}

// PoolingEnabled reports whether sessions for one identity are pooled.
func (c *ConnectionConfig) PoolingEnabled() bool {
	return !c.TLSEnabled && c.InitialPoolSize > 0
}

// PoolTimeout returns the idle eviction timeout.
func (c *ConnectionConfig) PoolTimeout() time.Duration {
	return time.Duration(c.PoolTimeoutMillis) * time.Millisecond
}

// Validate validates the connection configuration.
func (c *ConnectionConfig) Validate() error {
	if c.URL == "" && c.Domain == "" {
		return errors.New("either URL or domain must be specified")
	}

	if c.URL != "" {
		if _, err := ParseLDAPURL(c.URL); err != nil {
			return fmt.Errorf("invalid LDAP URL %s: %w", c.URL, err)
		}
	}

	switch c.Authentication {
	case AuthModeNone, AuthModeSimple:
	default:
		return fmt.Errorf("unsupported authentication mode: %q", c.Authentication)
	}

	switch c.Referral {
	case ReferralFollow, ReferralIgnore, ReferralThrow:
	default:
		return fmt.Errorf("unsupported referral policy: %q", c.Referral)
	}

	if c.InitialPoolSize < 0 {
		return errors.New("InitialPoolSize cannot be negative")
	}

	if c.MaxPoolSize <= 0 {
		return errors.New("MaxPoolSize must be positive")
	}

	if c.MaxPoolSize > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxPoolSize too high (max %d)", MaxConnectionPoolLimit)
	}

	if c.InitialPoolSize > c.MaxPoolSize {
		return errors.New("InitialPoolSize cannot exceed MaxPoolSize")
	}

	if c.PoolTimeoutMillis <= 0 {
		return errors.New("PoolTimeoutMillis must be positive")
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if c.SchemaEnabled && c.SchemaCacheSize <= 0 {
		return errors.New("SchemaCacheSize must be positive when schema is enabled")
	}

	if c.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if c.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}

// ProviderOptions merges the extended configuration with the explicit fields.
// Extended entries are applied first so an explicit field always wins on key collision.
// Pool and referral keys are omitted in TLS mode, which pools at the strategy layer.
func (c *ConnectionConfig) ProviderOptions() map[string]string {
	options := make(map[string]string, len(c.ExtendedConfiguration)+8)
	maps.Copy(options, c.ExtendedConfiguration)

	if c.URL != "" {
		options[OptionURL] = c.URL
	}
	options[OptionAuthentication] = string(c.Authentication)
	options[OptionTimeout] = c.Timeout.String()

	if !c.TLSEnabled {
		options[OptionReferral] = string(c.Referral)
		if c.InitialPoolSize > 0 {
			options[OptionInitialPoolSize] = strconv.Itoa(c.InitialPoolSize)
			options[OptionMaxPoolSize] = strconv.Itoa(c.MaxPoolSize)
			options[OptionPoolTimeout] = strconv.FormatInt(c.PoolTimeoutMillis, 10)
		}
	}

	return options
}

// DialOptions are the transport settings derived from resolved provider options.
type DialOptions struct {
	Timeout   time.Duration
	SizeLimit int
	TLSConfig *tls.Config
}

// ResolveDialOptions derives transport settings from ProviderOptions output.
func (c *ConnectionConfig) ResolveDialOptions(options map[string]string) (DialOptions, error) {
	opts := DialOptions{Timeout: c.Timeout}

	if v, ok := options[OptionTimeout]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s option %q: %w", OptionTimeout, v, err)
		}
		opts.Timeout = d
	}

	if v, ok := options[OptionSizeLimit]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s option %q: %w", OptionSizeLimit, v, err)
		}
		opts.SizeLimit = n
	}

	if c.TLSConfig != nil {
		opts.TLSConfig = c.TLSConfig.Clone()
	} else {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if v, ok := options[OptionTLSServerName]; ok && opts.TLSConfig.ServerName == "" {
		opts.TLSConfig.ServerName = v
	}

	if v, ok := options[OptionTLSInsecureVerify]; ok {
		skip, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return opts, fmt.Errorf("invalid %s option %q: %w", OptionTLSInsecureVerify, v, err)
		}
		opts.TLSConfig.InsecureSkipVerify = skip
	}

	caFile, caContent := options[OptionTLSCACertFile], options[OptionTLSCACert]
	if (caFile != "" || caContent != "") && opts.TLSConfig.RootCAs == nil {
		pool, err := buildCertPool(caFile, caContent)
		if err != nil {
			return opts, err
		}
		opts.TLSConfig.RootCAs = pool
	}

	return opts, nil
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	BaseDN   string
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// PoolStats provides statistics about the pool of one credential identity.
type PoolStats struct {
	Total   int           // Sessions currently owned by the pool
	Active  int64         // Sessions handed out to callers
	Idle    int           // Sessions waiting in the pool
	Created int64         // Total sessions created
	Errors  int64         // Total session creation errors
	Evicted int64         // Idle sessions closed after PoolTimeoutMillis
	Uptime  time.Duration // Pool uptime
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}
