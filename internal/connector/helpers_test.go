package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
	"github.com/isometry/ldap-connector/internal/ldap/ldaptest"
)

const (
	testURL      = "ldap://ldap.example.com:389"
	baseDN       = "dc=example,dc=com"
	peopleDN     = "ou=people,dc=example,dc=com"
	adminDN      = "cn=admin,dc=example,dc=com"
	adminPass    = "secret"
	aliceDN      = "uid=alice,ou=people,dc=example,dc=com"
	alicePass    = "wonderland"
	bobDN        = "uid=bob,ou=people,dc=example,dc=com"
	carolDN      = "uid=carol,ou=people,dc=example,dc=com"
	daveDN       = "uid=dave,ou=people,dc=example,dc=com"
	nonexistent  = "uid=nobody,ou=people,dc=example,dc=com"
	jpegSyntaxID = "1.3.6.1.4.1.1466.115.121.1.28"
)

func seedDirectory(t *testing.T) *ldaptest.Directory {
	t.Helper()

	dir := ldaptest.New()
	dir.AddEntry(baseDN, map[string][]string{
		"objectClass": {"top", "dcObject"},
		"dc":          {"example"},
	})
	dir.AddEntry(adminDN, map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"admin"},
		"sn":          {"Administrator"},
	})
	dir.SetPassword(adminDN, adminPass)
	dir.AddEntry(peopleDN, map[string][]string{
		"objectClass": {"top", "organizationalUnit"},
		"ou":          {"people"},
	})
	dir.AddEntry(aliceDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"alice"},
		"cn":          {"Alice Liddell"},
		"sn":          {"Liddell"},
		"mail":        {"alice@example.com", "a.liddell@example.com"},
		"jpegPhoto":   {"abc"},
	})
	dir.SetPassword(aliceDN, alicePass)
	dir.AddEntry(bobDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"bob"},
		"cn":          {"Bob Builder"},
		"sn":          {"Builder"},
		"mail":        {"bob@example.com"},
	})
	dir.AddEntry(carolDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"carol"},
		"cn":          {"Carol Danvers"},
		"sn":          {"Danvers"},
		"mail":        {"carol@example.org"},
	})
	dir.SetSchema([]string{
		"( 2.5.4.0 NAME 'objectClass' SYNTAX 1.3.6.1.4.1.1466.115.121.1.38 )",
		"( 2.5.4.3 NAME ( 'cn' 'commonName' ) SUP name )",
		"( 2.5.4.4 NAME ( 'sn' 'surname' ) SUP name )",
		"( 2.5.4.13 NAME 'description' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{1024} )",
		"( 0.9.2342.19200300.100.1.1 NAME ( 'uid' 'userid' ) SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{256} SINGLE-VALUE )",
		"( 0.9.2342.19200300.100.1.3 NAME ( 'mail' 'rfc822Mailbox' ) SYNTAX 1.3.6.1.4.1.1466.115.121.1.26{256} )",
		"( 0.9.2342.19200300.100.1.60 NAME 'jpegPhoto' SYNTAX " + jpegSyntaxID + " )",
	}, []string{
		"( 2.5.6.0 NAME 'top' ABSTRACT MUST objectClass )",
		"( 2.5.6.6 NAME 'person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY ( userPassword $ description ) )",
		"( 2.16.840.1.113730.3.2.2 NAME 'inetOrgPerson' SUP organizationalPerson STRUCTURAL MAY ( mail $ uid $ jpegPhoto ) )",
	})
	dir.ResetCalls()
	return dir
}

func testRegistry(t *testing.T, dir *ldaptest.Directory) *ldapclient.Registry {
	t.Helper()

	registry := ldapclient.NewRegistry()
	err := registry.Register(ldapclient.DefaultProviderType, ldapclient.DialerFunc(
		func(ctx context.Context, url string, _ ldapclient.DialOptions) (ldapclient.Transport, error) {
			conn, err := dir.Dial(ctx, url)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}))
	require.NoError(t, err)
	return registry
}

func newTestConnector(t *testing.T, dir *ldaptest.Directory, mutate ...func(*ldapclient.ConnectionConfig)) *Connector {
	t.Helper()

	config := ldapclient.DefaultConfig()
	config.URL = testURL
	config.MaxRetries = 0
	config.InitialBackoff = time.Millisecond
	for _, m := range mutate {
		m(config)
	}

	c, err := New(t.Context(), config, WithRegistry(testRegistry(t, dir)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newBoundConnector(t *testing.T, dir *ldaptest.Directory, mutate ...func(*ldapclient.ConnectionConfig)) *Connector {
	t.Helper()

	c := newTestConnector(t, dir, mutate...)
	_, err := c.Bind(t.Context(), adminDN, adminPass, "")
	require.NoError(t, err)
	dir.ResetCalls()
	return c
}

func withSchema(c *ldapclient.ConnectionConfig) {
	c.SchemaEnabled = true
}

// memorySchemaStore is a SchemaStore shared by every session of a test.
type memorySchemaStore struct {
	mu   sync.Mutex
	defs map[string]*ldapclient.AttributeTypeDefinition
	gets int
}

func newMemorySchemaStore() *memorySchemaStore {
	return &memorySchemaStore{defs: make(map[string]*ldapclient.AttributeTypeDefinition)}
}

func (s *memorySchemaStore) GetAttributeType(_ context.Context, key string) (*ldapclient.AttributeTypeDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	def, ok := s.defs[key]
	return def, ok, nil
}

func (s *memorySchemaStore) PutAttributeType(_ context.Context, key string, def *ldapclient.AttributeTypeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[key] = def
	return nil
}

func (s *memorySchemaStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	return keys
}
