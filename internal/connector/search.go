package connector

import (
	"context"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// DefaultFetchSize is the page size of PagedSearch when none is given.
const DefaultFetchSize = 200

// SearchParams describe one search.
type SearchParams struct {
	BaseDN        string
	Filter        string
	Attributes    []string // Empty returns every user attribute
	Scope         ldapclient.SearchScope
	TimeoutMillis int // 0 waits indefinitely
	MaxResults    int // 0 means no limit
	ReturnObjects bool
	PageSize      int // 0 disables paging
}

func (p SearchParams) controls() *ldapclient.SearchControls {
	return &ldapclient.SearchControls{
		Scope:         p.Scope,
		TimeoutMillis: p.TimeoutMillis,
		MaxResults:    p.MaxResults,
		Attributes:    p.Attributes,
		ReturnObjects: p.ReturnObjects,
		PageSize:      p.PageSize,
	}
}

// Lookup reads the entry named dn, optionally restricted to attributes.
func (c *Connector) Lookup(ctx context.Context, dn string, attributes ...string) (*ldapclient.Entry, error) {
	ctx = initializeLogging(ctx)
	tflog.SubsystemDebug(ctx, "connector", "About to retrieve entry", map[string]any{"dn": dn})

	return withSession(ctx, c, "lookup", func(conn *ldapclient.Connection) (*ldapclient.Entry, error) {
		return conn.Lookup(ctx, dn, attributes...)
	})
}

// Exists reports whether the entry named dn exists. Only a NameNotFound
// failure maps to false; other failures are returned.
func (c *Connector) Exists(ctx context.Context, dn string) (bool, error) {
	entry, err := c.Lookup(ctx, dn)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return entry != nil, nil
}

// Search returns every entry matching the filter under params.BaseDN.
func (c *Connector) Search(ctx context.Context, params SearchParams) ([]*ldapclient.Entry, error) {
	ctx = initializeLogging(ctx)
	tflog.SubsystemDebug(ctx, "connector", "About to search entries", map[string]any{
		"base_dn": params.BaseDN,
		"filter":  params.Filter,
		"scope":   params.Scope.String(),
	})

	start := time.Now()
	entries, err := withSession(ctx, c, "search", func(conn *ldapclient.Connection) ([]*ldapclient.Entry, error) {
		cursor, err := conn.Search(ctx, params.BaseDN, params.Filter, params.controls())
		if err != nil {
			return nil, err
		}
		return ldapclient.All(ctx, cursor)
	})
	if err != nil {
		return nil, err
	}

	ldapclient.LogPerformance(ctx, "connector", "search", time.Since(start), map[string]any{
		"base_dn": params.BaseDN,
		"results": len(entries),
	})
	return entries, nil
}

// SearchOne returns the first matching entry, or nil when nothing matches.
// Paging is never used.
func (c *Connector) SearchOne(ctx context.Context, params SearchParams) (*ldapclient.Entry, error) {
	params.PageSize = 0

	results, err := c.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(results) > 1 {
		tflog.SubsystemWarn(initializeLogging(ctx), "connector", "Search returned more than one result", map[string]any{
			"filter":        params.Filter,
			"total_results": len(results),
		})
	}

	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// PagedSearch starts a paged search whose pages hold fetchSize entries, or
// DefaultFetchSize when fetchSize is not positive. A non-empty orderBy sorts
// the results on the server. The delegate keeps a session checked out until
// it is closed.
func (c *Connector) PagedSearch(ctx context.Context, params SearchParams, orderBy string, ascending bool, fetchSize int) (*PagingDelegate, error) {
	ctx = initializeLogging(ctx)

	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	controls := params.controls()
	controls.PageSize = fetchSize
	if orderBy != "" {
		controls.SortKeys = []ldapclient.SortKey{{AttributeName: orderBy, Ascending: ascending}}
	}

	tflog.SubsystemDebug(ctx, "connector", "About to run paged search", map[string]any{
		"base_dn":    params.BaseDN,
		"filter":     params.Filter,
		"fetch_size": fetchSize,
		"order_by":   orderBy,
	})

	creds, err := c.credentials("paged_search")
	if err != nil {
		return nil, err
	}

	session, err := c.strategy.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}

	cursor, err := session.Connection().Search(ctx, params.BaseDN, params.Filter, controls)
	if err != nil {
		session.Release(ctx, err)
		return nil, err
	}

	return newPagingDelegate(cursor, fetchSize, session), nil
}

// AttributeTypeDefinition returns the schema definition of an attribute.
func (c *Connector) AttributeTypeDefinition(ctx context.Context, name string) (*ldapclient.AttributeTypeDefinition, error) {
	ctx = initializeLogging(ctx)
	return withSession(ctx, c, "schema_lookup", func(conn *ldapclient.Connection) (*ldapclient.AttributeTypeDefinition, error) {
		return conn.AttributeTypeDefinition(ctx, name)
	})
}

// ObjectClassDefinition returns the schema definition of an object class.
func (c *Connector) ObjectClassDefinition(ctx context.Context, name string) (*ldapclient.ObjectClassDefinition, error) {
	ctx = initializeLogging(ctx)
	return withSession(ctx, c, "schema_lookup", func(conn *ldapclient.Connection) (*ldapclient.ObjectClassDefinition, error) {
		return conn.ObjectClassDefinition(ctx, name)
	})
}

// ObjectClasses lists the object classes the directory schema defines.
func (c *Connector) ObjectClasses(ctx context.Context) ([]string, error) {
	ctx = initializeLogging(ctx)
	return withSession(ctx, c, "schema_lookup", func(conn *ldapclient.Connection) ([]string, error) {
		return conn.AllObjectClasses(ctx)
	})
}
