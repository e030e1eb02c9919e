/*
Package ldap provides a directory client layer on top of go-ldap, with a
map-like entry model and schema-aware result marshaling.

# Architecture Overview

The package is organized into several core components:

  - Entry and EntryAttribute: the in-memory entry model
  - Schema definitions, SchemaCache and SchemaStore: attribute type lookups
  - BuildEntry: wire attributes to entries
  - Cursors: simple and paged result iteration
  - Connection: one bound directory session
  - Strategy and Registry: sessions shared per credential identity

# Connection Management

A Strategy hands out bound sessions. The mode follows the configuration:

  - TLS: one StartTLS session per identity when TLSEnabled is set
  - Pooled: up to MaxPoolSize sessions per identity when InitialPoolSize > 0
  - Single: one session per identity otherwise

Sessions are opened with exponential backoff retry, idle sessions are evicted
after PoolTimeoutMillis and checked with a root DSE read. Servers come from the
configured URL or from DNS SRV discovery for a domain.

# Entry Model

An entry holds its DN apart from its attributes, so "dn" is never an attribute
name. Attributes are either single or multi valued; the shape is fixed at
construction. With schema support enabled the shape follows SINGLE-VALUE from
the directory schema, otherwise an attribute with more than one value is multi
valued.

# Error Handling

Every failure crossing the package boundary is an *LDAPError:

  - Kind: the closed failure taxonomy callers branch on
  - Category and Retryable: retry decisions for session creation
  - LDAPCode, ServerMsg and DN: server context

Use IsKind and the Is*Error helpers rather than comparing result codes.

# Thread Safety

Connection and cursors are not safe for concurrent use. Strategy, SchemaCache
and Registry are.

# Example Usage

	config := ldap.DefaultConfig()
	config.URL = "ldap://ldap.example.com:389"
	config.SchemaEnabled = true

	strategy, err := ldap.NewStrategy(ctx, config, nil)
	if err != nil {
		return err
	}
	defer strategy.Close(ctx)

	session, err := strategy.Acquire(ctx, ldap.Credentials{DN: bindDN, Password: password})
	if err != nil {
		return err
	}

	cursor, err := session.Connection().Search(ctx, "ou=people,dc=example,dc=com", "(uid=*)",
		&ldap.SearchControls{Scope: ldap.ScopeSubtree, PageSize: 100})
	if err != nil {
		session.Release(ctx, err)
		return err
	}
	entries, err := ldap.All(ctx, cursor)
	session.Release(ctx, err)
*/
package ldap
