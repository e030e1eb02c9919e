package connector

import (
	"context"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// PagingDelegate hands out the results of a paged search one page at a time.
// It is not safe for concurrent use.
type PagingDelegate struct {
	cursor    ldapclient.Cursor
	fetchSize int
	session   *ldapclient.Session
	lastErr   error
	closed    bool
}

func newPagingDelegate(cursor ldapclient.Cursor, fetchSize int, session *ldapclient.Session) *PagingDelegate {
	return &PagingDelegate{
		cursor:    cursor,
		fetchSize: fetchSize,
		session:   session,
	}
}

// NextPage returns up to FetchSize entries, or nil once the results are exhausted.
func (d *PagingDelegate) NextPage(ctx context.Context) ([]*ldapclient.Entry, error) {
	if d.closed {
		return nil, nil
	}

	ok, err := d.cursor.HasNext(ctx)
	if err != nil {
		d.lastErr = err
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	page := make([]*ldapclient.Entry, 0, d.fetchSize)
	for len(page) < d.fetchSize {
		ok, err := d.cursor.HasNext(ctx)
		if err != nil {
			d.lastErr = err
			return nil, err
		}
		if !ok {
			break
		}
		entry, err := d.cursor.Next(ctx)
		if err != nil {
			d.lastErr = err
			return nil, err
		}
		page = append(page, entry)
	}
	return page, nil
}

// FetchSize returns the number of entries per page.
func (d *PagingDelegate) FetchSize() int {
	return d.fetchSize
}

// TotalResults returns the server's estimate of the result size, or -1.
func (d *PagingDelegate) TotalResults() int {
	return d.cursor.EstimatedSize()
}

// Close ends the search and returns the session. It is safe to call more than once.
func (d *PagingDelegate) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true

	closeErr := d.cursor.Close()
	releaseErr := closeErr
	if releaseErr == nil {
		releaseErr = d.lastErr
	}
	d.session.Release(ctx, releaseErr)
	return closeErr
}
