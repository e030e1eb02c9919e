package ldap

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-connector/internal/ldap/ldaptest"
)

var adminCreds = Credentials{DN: testAdminDN, Password: testAdminPass}

func newTestStrategy(t *testing.T, dir *ldaptest.Directory, mutate ...func(*ConnectionConfig)) *Strategy {
	t.Helper()

	registry := NewRegistry()
	require.NoError(t, registry.Register(DefaultProviderType, directoryDialer(dir)))

	strategy, err := NewStrategy(t.Context(), testConfig(mutate...), registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = strategy.Close(context.Background()) })
	return strategy
}

func TestNewStrategy_Modes(t *testing.T) {
	dir := newTestDirectory(t)

	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
		want   StrategyMode
	}{
		{name: "pooled by default", mutate: func(*ConnectionConfig) {}, want: StrategyPooled},
		{name: "single", mutate: func(c *ConnectionConfig) { c.InitialPoolSize = 0 }, want: StrategySingle},
		{name: "tls wins over pool", mutate: func(c *ConnectionConfig) { c.TLSEnabled = true }, want: StrategyTLS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := newTestStrategy(t, dir, tt.mutate)
			assert.Equal(t, tt.want, strategy.Mode())
		})
	}
}

func TestNewStrategy_Errors(t *testing.T) {
	_, err := NewStrategy(t.Context(), testConfig(func(c *ConnectionConfig) { c.Type = "novell" }), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider type "novell"`)

	_, err = NewStrategy(t.Context(), testConfig(func(c *ConnectionConfig) { c.MaxPoolSize = 0 }), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestStrategy_SessionReuse(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	first, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	assert.False(t, first.Reused())
	conn := first.Connection()
	first.Release(ctx, nil)
	first.Release(ctx, nil)

	second, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	assert.True(t, second.Reused())
	assert.Same(t, conn, second.Connection())
	second.Release(ctx, nil)

	assert.Equal(t, 1, dir.Dials())
	stats := strategy.Stats()[testAdminDN]
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(0), stats.Active)
}

func TestStrategy_IdentitiesAreSeparate(t *testing.T) {
	dir := newTestDirectory(t)
	dir.SetPassword(testAliceDN, "wonderland")
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	admin, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	defer admin.Release(ctx, nil)

	alice, err := strategy.Acquire(ctx, Credentials{DN: testAliceDN, Password: "wonderland"})
	require.NoError(t, err)
	defer alice.Release(ctx, nil)

	assert.NotSame(t, admin.Connection(), alice.Connection())
	assert.Equal(t, testAliceDN, alice.Connection().BoundDN())
	assert.Len(t, strategy.Stats(), 2)
}

func TestStrategy_PooledConcurrentSessions(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.MaxPoolSize = 2 })
	ctx := t.Context()

	a, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	b, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	assert.NotSame(t, a.Connection(), b.Connection())
	assert.Equal(t, int64(2), strategy.Stats()[testAdminDN].Active)

	// The pool is at capacity until a session is released
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = strategy.Acquire(waitCtx, adminCreds)
	require.Error(t, err)
	assert.True(t, IsCommunicationError(err))

	a.Release(ctx, nil)
	c, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	assert.True(t, c.Reused())
	c.Release(ctx, nil)
	b.Release(ctx, nil)

	assert.Equal(t, 2, dir.Dials())
}

func TestStrategy_SingleModeHoldsOneSession(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.InitialPoolSize = 0 })
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = strategy.Acquire(waitCtx, adminCreds)
	require.Error(t, err)

	s.Release(ctx, nil)
	s, err = strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	s.Release(ctx, nil)
	assert.Equal(t, 1, dir.Dials())
}

func TestStrategy_TLSModeNegotiates(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.TLSEnabled = true })

	s, err := strategy.Acquire(t.Context(), adminCreds)
	require.NoError(t, err)
	defer s.Release(t.Context(), nil)

	assert.Equal(t, []string{"dial " + testURL, "starttls", "bind " + testAdminDN}, dir.Calls())
}

func TestStrategy_BrokenSessionIsDiscarded(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)

	dir.Kill()
	opErr := s.Connection().Ping(ctx)
	require.Error(t, opErr)
	s.Release(ctx, opErr)

	assert.Equal(t, 0, strategy.Stats()[testAdminDN].Idle)

	fresh, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	defer fresh.Release(ctx, nil)
	assert.False(t, fresh.Reused())
	require.NoError(t, fresh.Connection().Ping(ctx))
	assert.Equal(t, 2, dir.Dials())
}

func TestStrategy_NonCommunicationErrorKeepsSession(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	_, opErr := s.Connection().Lookup(ctx, "uid=nobody,"+testPeopleDN)
	require.True(t, IsNotFoundError(opErr))
	s.Release(ctx, opErr)

	assert.Equal(t, 1, strategy.Stats()[testAdminDN].Idle)
}

func TestStrategy_BindFailureDropsPool(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)

	_, err := strategy.Acquire(t.Context(), Credentials{DN: testAdminDN, Password: "wrong"})
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
	assert.Empty(t, strategy.Stats())
	assert.Equal(t, 0, dir.OpenConns())
}

func TestStrategy_RetriesRetryableDialFailures(t *testing.T) {
	dir := newTestDirectory(t)
	dir.FailDials(ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused")))
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.MaxRetries = 1 })

	s, err := strategy.Acquire(t.Context(), adminCreds)
	require.NoError(t, err)
	s.Release(t.Context(), nil)

	assert.Equal(t, 2, dir.Dials())
	stats := strategy.Stats()[testAdminDN]
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(1), stats.Created)
}

func TestStrategy_GivesUpAfterMaxRetries(t *testing.T) {
	dir := newTestDirectory(t)
	refused := ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused"))
	dir.FailDials(refused, refused, refused)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.MaxRetries = 2 })

	_, err := strategy.Acquire(t.Context(), adminCreds)
	require.Error(t, err)
	assert.True(t, IsCommunicationError(err))
	assert.Equal(t, 3, dir.Dials())
}

func TestStrategy_Prewarm(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.InitialPoolSize = 3 })

	s, err := strategy.Acquire(t.Context(), adminCreds)
	require.NoError(t, err)
	defer s.Release(t.Context(), nil)

	assert.Equal(t, 3, dir.Dials())
	stats := strategy.Stats()[testAdminDN]
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, 3, stats.Total)
}

func TestStrategy_AnonymousIdentity(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.Authentication = AuthModeNone })

	s, err := strategy.Acquire(t.Context(), Credentials{})
	require.NoError(t, err)
	s.Release(t.Context(), nil)

	// Every anonymous caller shares one identity
	s, err = strategy.Acquire(t.Context(), Credentials{DN: "cn=ignored"})
	require.NoError(t, err)
	assert.True(t, s.Reused())
	s.Release(t.Context(), nil)

	assert.Contains(t, dir.Calls(), "anonymous_bind")
	assert.Contains(t, strategy.Stats(), "anonymous")
}

func TestStrategy_Disconnect(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	s.Release(ctx, nil)
	require.Equal(t, 1, dir.OpenConns())

	strategy.Disconnect(ctx, adminCreds)
	assert.Equal(t, 0, dir.OpenConns())
	assert.Empty(t, strategy.Stats())

	// Disconnecting an unknown identity is a no-op
	strategy.Disconnect(ctx, Credentials{DN: testBobDN, Password: "x"})
}

func TestStrategy_Close(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir)
	ctx := t.Context()

	held, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)

	require.NoError(t, strategy.Close(ctx))
	require.NoError(t, strategy.Close(ctx))

	_, err = strategy.Acquire(ctx, adminCreds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection pool is closed")

	// A session returned after close is closed rather than pooled
	held.Release(ctx, nil)
	assert.Equal(t, 0, dir.OpenConns())
}

func TestStrategy_IdleEviction(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.PoolTimeoutMillis = 50 })
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	s.Release(ctx, nil)

	require.Eventually(t, func() bool {
		return strategy.Stats()[testAdminDN].Evicted == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, dir.OpenConns())
}

func TestStrategy_HealthCheckDiscardsDeadSessions(t *testing.T) {
	dir := newTestDirectory(t)
	strategy := newTestStrategy(t, dir, func(c *ConnectionConfig) { c.PoolTimeoutMillis = 60000 })
	ctx := t.Context()

	s, err := strategy.Acquire(ctx, adminCreds)
	require.NoError(t, err)
	s.Release(ctx, nil)

	p := strategy.pools[adminCreds.key(AuthModeSimple)]
	require.NotNil(t, p)

	dir.Kill()
	p.evictIdle()
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, int64(0), p.Stats().Evicted)
}

func TestCredentials_Key(t *testing.T) {
	a := Credentials{DN: "CN=Admin,DC=example,DC=com", Password: "secret"}
	b := Credentials{DN: "cn=admin,dc=example,dc=com", Password: "secret"}
	c := Credentials{DN: "cn=admin,dc=example,dc=com", Password: "other"}

	assert.Equal(t, a.key(AuthModeSimple), b.key(AuthModeSimple))
	assert.NotEqual(t, b.key(AuthModeSimple), c.key(AuthModeSimple))
	assert.NotContains(t, a.key(AuthModeSimple), "secret")
	assert.Equal(t, "none", c.key(AuthModeNone))
	assert.Equal(t, "none", Credentials{Mode: AuthModeNone, DN: "x"}.key(AuthModeSimple))
}

const testCACert = `-----BEGIN CERTIFICATE-----
MIIDBTCCAe2gAwIBAgIUF3pBeK7vWjkiOn5vkdviUpPSZDIwDQYJKoZIhvcNAQEL
BQAwEjEQMA4GA1UEAwwHVGVzdCBDQTAeFw0yNTEwMjQxNzM3NDNaFw0yNjEwMjQx
NzM3NDNaMBIxEDAOBgNVBAMMB1Rlc3QgQ0EwggEiMA0GCSqGSIb3DQEBAQUAA4IB
DwAwggEKAoIBAQDcyerW4aUDqSKC9QPHuL1wZadQqNOP97LwivFl0rnJ1TTUw8Xn
qX+V16tViOSuPq+tp4vxLDE4Sv0dJbXm35+7mb9xkmJFvIQaP8wQweza/k/GnkuM
pCM9voUpxC2wDnNSenw46L0eTdFPyXDTDRQR8vbS85OektHdsSgMwxubugS0CihD
WlIKYZnvpLPrvjBoplfS5Ff3gdse2d5K9qzl4Vs+KDyfxJegML9ATmPnXWLkyl13
3WjV/rjlQrxqtIJH+APUVyGBCNe+LtymOHeIy+FMX3JpKV1CLGyVoQ1sowzgm17D
wgErA2L6/quQpkNKNuoZSuDbFdJBiHyGWNsRAgMBAAGjUzBRMB0GA1UdDgQWBBRg
vCPlMaoj4A/WZxqd7kvtbfQpZTAfBgNVHSMEGDAWgBRgvCPlMaoj4A/WZxqd7kvt
bfQpZTAPBgNVHRMBAf8EBTADAQH/MA0GCSqGSIb3DQEBCwUAA4IBAQBFbrOXuzvE
pdNN/f64PpkJakfrWGXAR4xhZul+2lXgJQd0iq7mEOkWpPlOq8/UeDTlLfOSPcDw
FrQuODeDQeUmeglZvvmJIinOzFYf4wsxaJNqdQoF3bwY6UmUWlABDoRvVkWHFMwA
VpAD/4I2VNcE+Mqe03Lx0UO+xkZ74KzHrEwKpYcPP4J3K78S16NAlz3MaH4eLRWK
yVZWTBLVmuIFB5ITwdrdL92vdP6IQoXYOSrFDyhXkSoB+UxgaZwDji2wnYw3KZrm
aomYL4gPZz6Cnw2euSkQEY64gm/e1ueJDarBkzWUFUhmTMTJ/XRJpnhdu5FTqwKj
eNsm2nzlwhTR
-----END CERTIFICATE-----`

func TestBuildCertPool_SystemOnly(t *testing.T) {
	pool, err := buildCertPool("", "")
	if err != nil {
		t.Fatalf("buildCertPool() failed: %v", err)
	}
	if pool == nil {
		t.Fatal("buildCertPool() returned nil pool")
	}
}

func TestBuildCertPool_WithContentAndFile(t *testing.T) {
	if _, err := buildCertPool("", testCACert); err != nil {
		t.Fatalf("buildCertPool() with content failed: %v", err)
	}

	path := t.TempDir() + "/ca.pem"
	if err := os.WriteFile(path, []byte(testCACert), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}
	if _, err := buildCertPool(path, ""); err != nil {
		t.Fatalf("buildCertPool() with file failed: %v", err)
	}
}

func TestBuildCertPool_Errors(t *testing.T) {
	_, err := buildCertPool("", "this is not valid PEM content")
	if err == nil || !strings.Contains(err.Error(), "invalid PEM format") {
		t.Errorf("Expected 'invalid PEM format' error, got: %v", err)
	}

	_, err = buildCertPool("/nonexistent/path/to/ca.pem", "")
	if err == nil || !strings.Contains(err.Error(), "failed to read CA certificate file") {
		t.Errorf("Expected 'failed to read CA certificate file' error, got: %v", err)
	}
}

func TestResolveDialOptions_CACertificate(t *testing.T) {
	config := testConfig()

	opts, err := config.ResolveDialOptions(map[string]string{OptionTLSCACert: testCACert})
	require.NoError(t, err)
	assert.NotNil(t, opts.TLSConfig.RootCAs)

	_, err = config.ResolveDialOptions(map[string]string{OptionTLSCACertFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}
