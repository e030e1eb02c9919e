package connector

import (
	"fmt"
	"os"
	"strconv"
	"time"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvURL             = "LDAP_URL"
	EnvDomain          = "LDAP_DOMAIN"
	EnvType            = "LDAP_TYPE"
	EnvAuthentication  = "LDAP_AUTHENTICATION"
	EnvInitialPoolSize = "LDAP_INITIAL_POOL_SIZE"
	EnvMaxPoolSize     = "LDAP_MAX_POOL_SIZE"
	EnvPoolTimeout     = "LDAP_POOL_TIMEOUT_MS"
	EnvReferral        = "LDAP_REFERRAL"
	EnvSchemaEnabled   = "LDAP_SCHEMA_ENABLED"
	EnvTLSEnabled      = "LDAP_TLS_ENABLED"
	EnvTimeout         = "LDAP_CONNECT_TIMEOUT"
	EnvMaxRetries      = "LDAP_MAX_RETRIES"

	// Passed through as provider options
	EnvSizeLimit     = "LDAP_SIZE_LIMIT"
	EnvCACertFile    = "LDAP_CA_CERT_FILE"
	EnvTLSServerName = "LDAP_TLS_SERVER_NAME"
	EnvTLSInsecure   = "LDAP_TLS_INSECURE_SKIP_VERIFY"
)

var providerOptionEnv = map[string]string{
	EnvSizeLimit:     ldapclient.OptionSizeLimit,
	EnvCACertFile:    ldapclient.OptionTLSCACertFile,
	EnvTLSServerName: ldapclient.OptionTLSServerName,
	EnvTLSInsecure:   ldapclient.OptionTLSInsecureVerify,
}

// ConfigFromEnv returns the default configuration overlaid with the LDAP_*
// environment variables that are set.
func ConfigFromEnv() (*ldapclient.ConnectionConfig, error) {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) (*ldapclient.ConnectionConfig, error) {
	config := ldapclient.DefaultConfig()
	env := envReader{lookup: lookup}

	// Connection settings
	config.URL = env.stringValue(EnvURL, config.URL)
	config.Domain = env.stringValue(EnvDomain, config.Domain)
	config.Type = env.stringValue(EnvType, config.Type)
	config.Timeout = env.durationValue(EnvTimeout, config.Timeout)

	// Authentication
	config.Authentication = ldapclient.AuthMode(env.stringValue(EnvAuthentication, string(config.Authentication)))

	// Pool settings
	config.InitialPoolSize = env.intValue(EnvInitialPoolSize, config.InitialPoolSize)
	config.MaxPoolSize = env.intValue(EnvMaxPoolSize, config.MaxPoolSize)
	config.PoolTimeoutMillis = int64(env.intValue(EnvPoolTimeout, int(config.PoolTimeoutMillis)))

	config.Referral = ldapclient.ReferralPolicy(env.stringValue(EnvReferral, string(config.Referral)))
	config.SchemaEnabled = env.boolValue(EnvSchemaEnabled, config.SchemaEnabled)
	config.TLSEnabled = env.boolValue(EnvTLSEnabled, config.TLSEnabled)

	// Retry settings
	config.MaxRetries = env.intValue(EnvMaxRetries, config.MaxRetries)

	for name, option := range providerOptionEnv {
		if v := env.stringValue(name, ""); v != "" {
			if config.ExtendedConfiguration == nil {
				config.ExtendedConfiguration = make(map[string]string)
			}
			config.ExtendedConfiguration[option] = v
		}
	}

	if env.err != nil {
		return nil, env.err
	}
	return config, nil
}

// envReader keeps the first parse failure so a caller checks once.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) stringValue(name, defaultValue string) string {
	if v, ok := r.lookup(name); ok && v != "" {
		return v
	}
	return defaultValue
}

func (r *envReader) intValue(name string, defaultValue int) int {
	v, ok := r.lookup(name)
	if !ok || v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) boolValue(name string, defaultValue bool) bool {
	v, ok := r.lookup(name)
	if !ok || v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, v, err)
		return defaultValue
	}
	return parsed
}

// durationValue accepts a Go duration or a bare number of seconds.
func (r *envReader) durationValue(name string, defaultValue time.Duration) time.Duration {
	v, ok := r.lookup(name)
	if !ok || v == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.fail(name, v, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) fail(name, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
}
