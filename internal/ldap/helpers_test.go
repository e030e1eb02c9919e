package ldap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-connector/internal/ldap/ldaptest"
)

const (
	testURL       = "ldap://ldap.example.com:389"
	testBaseDN    = "dc=example,dc=com"
	testPeopleDN  = "ou=people,dc=example,dc=com"
	testAdminDN   = "cn=admin,dc=example,dc=com"
	testAdminPass = "secret"
	testAliceDN   = "uid=alice,ou=people,dc=example,dc=com"
	testBobDN     = "uid=bob,ou=people,dc=example,dc=com"
	testCarolDN   = "uid=carol,ou=people,dc=example,dc=com"
)

var testAttributeTypes = []string{
	"( 2.5.4.0 NAME 'objectClass' EQUALITY objectIdentifierMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.38 )",
	"( 2.5.4.3 NAME ( 'cn' 'commonName' ) DESC 'RFC4519: common name(s) for which the entity is known by' SUP name )",
	"( 2.5.4.4 NAME ( 'sn' 'surname' ) SUP name )",
	"( 2.5.4.11 NAME ( 'ou' 'organizationalUnitName' ) SUP name )",
	"( 2.5.4.13 NAME 'description' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{1024} )",
	"( 0.9.2342.19200300.100.1.1 NAME ( 'uid' 'userid' ) EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{256} SINGLE-VALUE )",
	"( 0.9.2342.19200300.100.1.3 NAME ( 'mail' 'rfc822Mailbox' ) EQUALITY caseIgnoreIA5Match SYNTAX 1.3.6.1.4.1.1466.115.121.1.26{256} )",
	"( 0.9.2342.19200300.100.1.25 NAME ( 'dc' 'domainComponent' ) EQUALITY caseIgnoreIA5Match SYNTAX 1.3.6.1.4.1.1466.115.121.1.26 SINGLE-VALUE )",
	"( 0.9.2342.19200300.100.1.60 NAME 'jpegPhoto' SYNTAX 1.3.6.1.4.1.1466.115.121.1.28 )",
}

var testObjectClasses = []string{
	"( 2.5.6.0 NAME 'top' ABSTRACT MUST objectClass )",
	"( 2.5.6.6 NAME 'person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY ( userPassword $ telephoneNumber $ description ) )",
	"( 2.16.840.1.113730.3.2.2 NAME 'inetOrgPerson' SUP organizationalPerson STRUCTURAL MAY ( mail $ uid $ jpegPhoto ) )",
	"( 1.3.6.1.4.1.1466.344 NAME 'dcObject' SUP top AUXILIARY MUST dc )",
}

// newTestDirectory returns a directory with an admin identity and three people.
func newTestDirectory(t *testing.T) *ldaptest.Directory {
	t.Helper()

	dir := ldaptest.New()
	dir.AddEntry(testBaseDN, map[string][]string{
		"objectClass": {"top", "dcObject"},
		"dc":          {"example"},
	})
	dir.AddEntry(testAdminDN, map[string][]string{
		"objectClass": {"top", "person"},
		"cn":          {"admin"},
		"sn":          {"Administrator"},
	})
	dir.SetPassword(testAdminDN, testAdminPass)
	dir.AddEntry(testPeopleDN, map[string][]string{
		"objectClass": {"top", "organizationalUnit"},
		"ou":          {"people"},
	})
	dir.AddEntry(testAliceDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"alice"},
		"cn":          {"Alice Liddell"},
		"sn":          {"Liddell"},
		"mail":        {"alice@example.com", "a.liddell@example.com"},
	})
	dir.AddEntry(testBobDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"bob"},
		"cn":          {"Bob Builder"},
		"sn":          {"Builder"},
		"mail":        {"bob@example.com"},
	})
	dir.AddEntry(testCarolDN, map[string][]string{
		"objectClass": {"top", "person", "inetOrgPerson"},
		"uid":         {"carol"},
		"cn":          {"Carol Danvers"},
		"sn":          {"Danvers"},
		"mail":        {"carol@example.org"},
	})
	dir.SetSchema(testAttributeTypes, testObjectClasses)
	dir.ResetCalls()
	return dir
}

func directoryDialer(dir *ldaptest.Directory) Dialer {
	return DialerFunc(func(ctx context.Context, url string, _ DialOptions) (Transport, error) {
		conn, err := dir.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

func testConfig(mutate ...func(*ConnectionConfig)) *ConnectionConfig {
	config := DefaultConfig()
	config.URL = testURL
	config.MaxRetries = 0
	config.InitialBackoff = time.Millisecond
	config.MaxBackoff = 5 * time.Millisecond
	for _, m := range mutate {
		m(config)
	}
	return config
}

func newTestConnection(t *testing.T, dir *ldaptest.Directory, mutate ...func(*ConnectionConfig)) *Connection {
	t.Helper()

	conn, err := NewConnection(testConfig(mutate...), WithDialer(directoryDialer(dir)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newBoundConnection(t *testing.T, dir *ldaptest.Directory, mutate ...func(*ConnectionConfig)) *Connection {
	t.Helper()

	conn := newTestConnection(t, dir, mutate...)
	require.NoError(t, conn.Bind(t.Context(), testAdminDN, testAdminPass))
	dir.ResetCalls()
	return conn
}

func withSchema(c *ConnectionConfig) {
	c.SchemaEnabled = true
}
