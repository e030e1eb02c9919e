package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

func dns(entries []*ldapclient.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.DN())
	}
	return out
}

func TestConnector_Search(t *testing.T) {
	tests := []struct {
		name   string
		params SearchParams
		want   []string
	}{
		{
			name:   "one level",
			params: SearchParams{BaseDN: peopleDN, Filter: "(objectClass=person)"},
			want:   []string{aliceDN, bobDN, carolDN},
		},
		{
			name:   "subtree",
			params: SearchParams{BaseDN: baseDN, Filter: "(sn=*)", Scope: ldapclient.ScopeSubtree},
			want:   []string{adminDN, aliceDN, bobDN, carolDN},
		},
		{
			name:   "object",
			params: SearchParams{BaseDN: bobDN, Filter: "(objectClass=*)", Scope: ldapclient.ScopeObject},
			want:   []string{bobDN},
		},
		{
			name:   "paged",
			params: SearchParams{BaseDN: peopleDN, Filter: "(mail=*@example.com)", PageSize: 1},
			want:   []string{aliceDN, bobDN},
		},
		{
			name:   "limited",
			params: SearchParams{BaseDN: peopleDN, Filter: "(uid=*)", MaxResults: 2},
			want:   []string{aliceDN, bobDN},
		},
		{
			name:   "no match",
			params: SearchParams{BaseDN: peopleDN, Filter: "(uid=zed)"},
			want:   []string{},
		},
	}

	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := c.Search(t.Context(), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dns(entries))
		})
	}
}

func TestConnector_SearchAttributes(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)

	entries, err := c.Search(t.Context(), SearchParams{
		BaseDN:     peopleDN,
		Filter:     "(uid=alice)",
		Attributes: []string{"mail"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, []string{"dn", "mail"}, entries[0].Keys())
	mail, ok := entries[0].Get("mail")
	require.True(t, ok)
	assert.Equal(t, []string{"alice@example.com", "a.liddell@example.com"}, mail)
}

func TestConnector_SearchFailure(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)

	_, err := c.Search(t.Context(), SearchParams{BaseDN: "ou=missing,dc=example,dc=com", Filter: "(uid=*)"})
	assert.True(t, ldapclient.IsNotFoundError(err))

	_, err = c.Search(t.Context(), SearchParams{BaseDN: peopleDN, Filter: "(uid=alice"})
	assert.Error(t, err)
}

func TestConnector_SearchOne(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)
	ctx := t.Context()

	entry, err := c.SearchOne(ctx, SearchParams{BaseDN: peopleDN, Filter: "(uid=bob)"})
	require.NoError(t, err)
	assert.Equal(t, bobDN, entry.DN())

	// Several matches return the first one
	entry, err = c.SearchOne(ctx, SearchParams{BaseDN: peopleDN, Filter: "(uid=*)", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, aliceDN, entry.DN())
	assert.NotContains(t, dir.Calls(), "abandon "+peopleDN)

	entry, err = c.SearchOne(ctx, SearchParams{BaseDN: peopleDN, Filter: "(uid=zed)"})
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestConnector_PagedSearch(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)
	ctx := t.Context()

	pages, err := c.PagedSearch(ctx, SearchParams{BaseDN: peopleDN, Filter: "(objectClass=person)"}, "sn", true, 2)
	require.NoError(t, err)
	defer pages.Close(ctx)

	assert.Equal(t, 2, pages.FetchSize())
	assert.Equal(t, 3, pages.TotalResults())

	page, err := pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{bobDN, carolDN}, dns(page))

	page, err = pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{aliceDN}, dns(page))

	page, err = pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Nil(t, page)

	require.NoError(t, pages.Close(ctx))
	require.NoError(t, pages.Close(ctx))
	assert.NotContains(t, dir.Calls(), "abandon "+peopleDN)

	// The session went back to the pool
	assert.Equal(t, 1, c.Stats()[adminDN].Idle)
}

func TestConnector_PagedSearchDescending(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)
	ctx := t.Context()

	pages, err := c.PagedSearch(ctx, SearchParams{BaseDN: peopleDN, Filter: "(objectClass=person)"}, "sn", false, 0)
	require.NoError(t, err)
	defer pages.Close(ctx)

	assert.Equal(t, DefaultFetchSize, pages.FetchSize())

	page, err := pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{aliceDN, carolDN, bobDN}, dns(page))
}

func TestConnector_PagedSearchEarlyClose(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)
	ctx := t.Context()

	pages, err := c.PagedSearch(ctx, SearchParams{BaseDN: peopleDN, Filter: "(uid=*)"}, "", true, 1)
	require.NoError(t, err)

	page, err := pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{aliceDN}, dns(page))

	require.NoError(t, pages.Close(ctx))
	assert.Contains(t, dir.Calls(), "abandon "+peopleDN)

	page, err = pages.NextPage(ctx)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestConnector_PagedSearchHoldsSession(t *testing.T) {
	dir := seedDirectory(t)
	c := newBoundConnector(t, dir)
	ctx := t.Context()

	pages, err := c.PagedSearch(ctx, SearchParams{BaseDN: peopleDN, Filter: "(uid=*)"}, "", true, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), c.Stats()[adminDN].Active)

	// Other operations run on a second session while the search is open
	_, err = c.Lookup(ctx, bobDN)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Dials())

	require.NoError(t, pages.Close(ctx))
	assert.Equal(t, int64(0), c.Stats()[adminDN].Active)
}

func TestConnector_PagedSearchUnsupported(t *testing.T) {
	dir := seedDirectory(t)
	dir.RejectControl("1.2.840.113556.1.4.319")
	c := newBoundConnector(t, dir)

	_, err := c.PagedSearch(t.Context(), SearchParams{BaseDN: peopleDN, Filter: "(uid=*)"}, "", true, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support paging results")
	assert.Equal(t, int64(0), c.Stats()[adminDN].Active)
}
