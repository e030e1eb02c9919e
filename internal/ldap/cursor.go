package ldap

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Cursor iterates the entries of one search.
type Cursor interface {
	// HasNext reports whether Next will return an entry. It may block on the
	// network while the next entry or page is fetched.
	HasNext(ctx context.Context) (bool, error)
	// Next returns the next entry, or ErrExhaustedCursor when none remain.
	Next(ctx context.Context) (*Entry, error)
	// Close releases transport resources. It is safe to call more than once.
	Close() error
	// EstimatedSize returns the server's result size estimate, or -1.
	EstimatedSize() int
}

// All drains the cursor and closes it.
func All(ctx context.Context, c Cursor) ([]*Entry, error) {
	defer c.Close()

	var entries []*Entry
	for {
		ok, err := c.HasNext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entry, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}

// cursorSource carries what both cursor kinds need from their Connection.
type cursorSource struct {
	baseDN   string
	schema   AttributeTypeResolver
	referral ReferralPolicy
	paging   bool
	sorting  bool
}

func (s *cursorSource) marshal(ctx context.Context, wire *ldap.Entry) (*Entry, error) {
	return BuildEntry(ctx, QualifyDN(wire.DN, s.baseDN), wire.Attributes, s.schema)
}

func (s *cursorSource) classify(err error) error {
	return NewLDAPError("search", err, WithDN(s.baseDN), withControls(s.paging, s.sorting))
}

// handleReferral applies the referral policy to a continuation reference.
// It returns an error only under ReferralThrow.
func (s *cursorSource) handleReferral(ctx context.Context, referral string, followed *[]string) error {
	switch s.referral {
	case ReferralThrow:
		return newLocalError(KindReferral, "search", fmt.Sprintf("search continuation reference: %s", referral))
	case ReferralFollow:
		*followed = append(*followed, referral)
		tflog.SubsystemDebug(ctx, "ldap", "Recorded search continuation reference", map[string]any{
			"base_dn":  s.baseDN,
			"referral": referral,
		})
	default:
		tflog.SubsystemTrace(ctx, "ldap", "Ignoring search continuation reference", map[string]any{
			"referral": referral,
		})
	}
	return nil
}

func isSizeLimitExceeded(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) || errors.Is(err, ldap.ErrSizeLimitExceeded)
}

// simpleCursor streams entries of an unpaged search.
type simpleCursor struct {
	source    cursorSource
	response  ldap.Response
	searchCtx context.Context
	cancel    context.CancelFunc

	next      *Entry
	done      bool
	closed    bool
	drained   bool
	referrals []string
}

func newSimpleCursor(ctx context.Context, t Transport, req *ldap.SearchRequest, source cursorSource) *simpleCursor {
	searchCtx, cancel := context.WithCancel(ctx)
	return &simpleCursor{
		source:    source,
		response:  t.SearchAsync(searchCtx, req, 0),
		searchCtx: searchCtx,
		cancel:    cancel,
	}
}

func (c *simpleCursor) HasNext(ctx context.Context) (bool, error) {
	if c.next != nil {
		return true, nil
	}
	if c.done || c.closed {
		return false, nil
	}

	for {
		// A result may already be waiting after cancellation
		if c.searchCtx.Err() != nil {
			return false, c.finish(ctx, nil)
		}
		if !c.response.Next() {
			return false, c.finish(ctx, c.response.Err())
		}

		if wire := c.response.Entry(); wire != nil {
			entry, err := c.source.marshal(ctx, wire)
			if err != nil {
				c.release()
				return false, err
			}
			c.next = entry
			return true, nil
		}

		if ref := c.response.Referral(); ref != "" {
			if err := c.source.handleReferral(ctx, ref, &c.referrals); err != nil {
				c.release()
				return false, err
			}
		}
		// Control-only results carry nothing to return
	}
}

// finish ends the enumeration. A size limit hit at the end is not a failure.
func (c *simpleCursor) finish(ctx context.Context, err error) error {
	cancelled := c.searchCtx.Err()
	c.release()

	switch {
	case err == nil && cancelled != nil && !c.closed:
		return c.source.classify(cancelled)
	case err == nil:
		return nil
	case isSizeLimitExceeded(err):
		tflog.SubsystemWarn(ctx, "ldap", "Search size limit exceeded, returning partial results", map[string]any{
			"base_dn": c.source.baseDN,
		})
		return nil
	default:
		return c.source.classify(err)
	}
}

func (c *simpleCursor) Next(ctx context.Context) (*Entry, error) {
	ok, err := c.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newLocalError(KindExhaustedCursor, "next", ErrExhaustedCursor.Message)
	}
	entry := c.next
	c.next = nil
	return entry, nil
}

// release stops the search. The transport hands results over an unbuffered
// channel, so whatever it already read must be drained before its goroutine
// can see the cancellation and let go of the connection.
func (c *simpleCursor) release() {
	c.done = true
	if c.drained {
		return
	}
	c.drained = true
	c.cancel()
	for c.response.Next() {
	}
}

func (c *simpleCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.next = nil
	c.release()
	return nil
}

func (c *simpleCursor) EstimatedSize() int {
	return -1
}

// Referrals returns the continuation references recorded under ReferralFollow.
func (c *simpleCursor) Referrals() []string {
	return c.referrals
}

// pagedCursor walks a search page by page with the paged results control.
type pagedCursor struct {
	source    cursorSource
	transport Transport
	request   *ldap.SearchRequest
	paging    *ldap.ControlPaging

	page      []*ldap.Entry
	pos       int
	pages     int
	more      bool
	estimate  int
	closed    bool
	referrals []string
}

func newPagedCursor(t Transport, req *ldap.SearchRequest, pageSize int, source cursorSource) *pagedCursor {
	return &pagedCursor{
		source:    source,
		transport: t,
		request:   req,
		paging:    ldap.NewControlPaging(uint32(pageSize)),
		more:      true,
		estimate:  -1,
	}
}

func (c *pagedCursor) HasNext(ctx context.Context) (bool, error) {
	for {
		if c.closed {
			return false, nil
		}
		if c.pos < len(c.page) {
			return true, nil
		}
		if !c.more {
			return false, nil
		}
		if err := c.fetchPage(ctx); err != nil {
			return false, err
		}
	}
}

// fetchPage issues the search again with the cookie of the previous page.
func (c *pagedCursor) fetchPage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return c.source.classify(err)
	}

	c.request.Controls = c.requestControls(c.paging)
	result, err := c.transport.Search(c.request)
	c.pages++

	if err != nil {
		if !isSizeLimitExceeded(err) {
			c.page, c.pos, c.more = nil, 0, false
			return c.source.classify(err)
		}
		tflog.SubsystemWarn(ctx, "ldap", "Search size limit exceeded, returning partial results", map[string]any{
			"base_dn": c.source.baseDN,
			"page":    c.pages,
		})
		c.more = false
	}
	if result == nil {
		c.page, c.pos, c.more = nil, 0, false
		return nil
	}

	for _, ref := range result.Referrals {
		if err := c.source.handleReferral(ctx, ref, &c.referrals); err != nil {
			c.more = false
			return err
		}
	}

	c.page, c.pos = result.Entries, 0

	if c.more {
		c.more = false
		if ctrl, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
			if ctrl.PagingSize > 0 {
				c.estimate = int(ctrl.PagingSize)
			}
			if len(ctrl.Cookie) > 0 {
				c.paging.SetCookie(ctrl.Cookie)
				c.more = true
			}
		}
	}

	tflog.SubsystemTrace(ctx, "ldap", "Fetched search result page", map[string]any{
		"base_dn":   c.source.baseDN,
		"page":      c.pages,
		"entries":   len(result.Entries),
		"more":      c.more,
		"page_size": c.paging.PagingSize,
	})
	return nil
}

func (c *pagedCursor) requestControls(paging *ldap.ControlPaging) []ldap.Control {
	controls := []ldap.Control{critical(paging)}
	for _, ctrl := range c.request.Controls {
		if ctrl.GetControlType() != ldap.ControlTypePaging {
			controls = append(controls, ctrl)
		}
	}
	return controls
}

func (c *pagedCursor) Next(ctx context.Context) (*Entry, error) {
	ok, err := c.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newLocalError(KindExhaustedCursor, "next", ErrExhaustedCursor.Message)
	}
	wire := c.page[c.pos]
	c.pos++
	return c.source.marshal(ctx, wire)
}

// Close abandons the server side paged search when pages remain unread.
func (c *pagedCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.page, c.pos = nil, 0

	if !c.more {
		return nil
	}
	c.more = false

	// A page size of zero with the last cookie releases the server's state
	abandon := ldap.NewControlPaging(0)
	abandon.SetCookie(c.paging.Cookie)
	c.request.Controls = c.requestControls(abandon)
	if _, err := c.transport.Search(c.request); err != nil && !isSizeLimitExceeded(err) {
		return c.source.classify(err)
	}
	return nil
}

func (c *pagedCursor) EstimatedSize() int {
	return c.estimate
}

// Referrals returns the continuation references recorded under ReferralFollow.
func (c *pagedCursor) Referrals() []string {
	return c.referrals
}
