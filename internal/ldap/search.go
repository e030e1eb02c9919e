package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// SearchScope selects how far below the base DN a search reaches.
type SearchScope int

const (
	ScopeOneLevel SearchScope = iota
	ScopeObject
	ScopeSubtree
)

// ParseSearchScope accepts OBJECT, ONE_LEVEL and SUB_TREE in any case.
// An empty string yields the one-level default.
func ParseSearchScope(s string) (SearchScope, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "ONE_LEVEL", "ONELEVEL", "ONE":
		return ScopeOneLevel, nil
	case "OBJECT", "BASE":
		return ScopeObject, nil
	case "SUB_TREE", "SUBTREE", "SUB":
		return ScopeSubtree, nil
	default:
		return ScopeOneLevel, fmt.Errorf("invalid search scope: %q", s)
	}
}

func (s SearchScope) String() string {
	switch s {
	case ScopeObject:
		return "OBJECT"
	case ScopeSubtree:
		return "SUB_TREE"
	default:
		return "ONE_LEVEL"
	}
}

func (s SearchScope) ldapScope() int {
	switch s {
	case ScopeObject:
		return ldap.ScopeBaseObject
	case ScopeSubtree:
		return ldap.ScopeWholeSubtree
	default:
		return ldap.ScopeSingleLevel
	}
}

// SortKey orders search results with the server side sorting control.
type SortKey struct {
	AttributeName  string
	Ascending      bool
	MatchingRuleID string
}

// SearchControls tune a single search request.
type SearchControls struct {
	Scope         SearchScope
	TimeoutMillis int // 0 means no limit
	MaxResults    int // 0 means no limit
	Attributes    []string
	ReturnObjects bool // Carried for callers; values are always returned
	PageSize      int  // 0 disables paging
	SortKeys      []SortKey
}

// PagingEnabled reports whether the search uses the paged results control.
func (c *SearchControls) PagingEnabled() bool {
	return c != nil && c.PageSize > 0
}

// SortEnabled reports whether the search uses the server side sorting control.
func (c *SearchControls) SortEnabled() bool {
	return c != nil && len(c.SortKeys) > 0
}

// timeLimitSeconds rounds up so a sub-second timeout still limits the search.
func (c *SearchControls) timeLimitSeconds() int {
	if c.TimeoutMillis <= 0 {
		return 0
	}
	return (c.TimeoutMillis + 999) / 1000
}

// newSearchRequest builds a request whose controls belong to this request only.
func newSearchRequest(baseDN, filter string, controls *SearchControls, sizeLimit int) *ldap.SearchRequest {
	if controls == nil {
		controls = &SearchControls{}
	}

	if controls.MaxResults > 0 {
		sizeLimit = controls.MaxResults
	}

	var reqControls []ldap.Control
	if controls.SortEnabled() {
		reqControls = append(reqControls, newSortControl(controls.SortKeys))
	}

	return ldap.NewSearchRequest(
		baseDN,
		controls.Scope.ldapScope(),
		ldap.DerefAlways,
		sizeLimit,
		controls.timeLimitSeconds(),
		false,
		filter,
		controls.Attributes,
		reqControls,
	)
}
