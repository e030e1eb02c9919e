package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-connector/internal/ldap/ldaptest"
)

func TestRequestControls(t *testing.T) {
	paging := ldap.NewControlPaging(25)
	paging.SetCookie([]byte("page-2"))

	tests := []struct {
		name string
		ctrl ldap.Control
		want *ldaptest.RequestControl
	}{
		{
			name: "paging",
			ctrl: critical(paging),
			want: &ldaptest.RequestControl{
				Type:       ldap.ControlTypePaging,
				Critical:   true,
				PagingSize: 25,
				Cookie:     []byte("page-2"),
			},
		},
		{
			name: "sort without matching rule",
			ctrl: newSortControl([]SortKey{{AttributeName: "sn", Ascending: true}}),
			want: &ldaptest.RequestControl{
				Type:     ldap.ControlTypeServerSideSorting,
				Critical: true,
				SortKeys: []ldaptest.SortKey{{AttributeType: "sn"}},
			},
		},
		{
			name: "sort with several keys",
			ctrl: newSortControl([]SortKey{
				{AttributeName: "sn", MatchingRuleID: "2.5.13.3"},
				{AttributeName: "givenName", Ascending: true},
			}),
			want: &ldaptest.RequestControl{
				Type:     ldap.ControlTypeServerSideSorting,
				Critical: true,
				SortKeys: []ldaptest.SortKey{
					{AttributeType: "sn", OrderingRule: "2.5.13.3", HasOrderingRule: true, Reverse: true},
					{AttributeType: "givenName"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ldaptest.ParseControl(tt.ctrl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Type, tt.ctrl.GetControlType())
		})
	}
}

func TestCriticalControl_KeepsCookieUpdates(t *testing.T) {
	paging := ldap.NewControlPaging(10)
	ctrl := critical(paging)

	paging.SetCookie([]byte("next"))

	got, err := ldaptest.ParseControl(ctrl)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), got.Cookie)
	assert.Contains(t, ctrl.String(), "(critical)")
}

func TestSearch_UnsupportedControlCriticality(t *testing.T) {
	// Without the critical flag a server lacking a control answers as if it
	// was never sent
	dir := newTestDirectory(t)
	dir.RejectControl(ldap.ControlTypePaging)
	session, err := dir.Dial(t.Context(), testURL)
	require.NoError(t, err)

	req := newSearchRequest(testPeopleDN, "(uid=*)", nil, 0)
	req.Controls = []ldap.Control{ldap.NewControlPaging(1)}
	result, err := session.Search(req)
	require.NoError(t, err)
	assert.Len(t, result.Entries, 3)
	assert.Nil(t, ldap.FindControl(result.Controls, ldap.ControlTypePaging))

	req.Controls = []ldap.Control{critical(ldap.NewControlPaging(1))}
	_, err = session.Search(req)
	assert.True(t, ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailableCriticalExtension))
}
