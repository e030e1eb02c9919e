package ldaptest

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

var errConnClosed = ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))

// Conn is one session with a Directory.
type Conn struct {
	dir *Directory
	url string

	mu      sync.Mutex
	closed  bool
	killed  bool
	tls     bool
	timeout time.Duration
}

// URL returns the URL the session was dialed with.
func (c *Conn) URL() string {
	return c.url
}

// TLS reports whether StartTLS succeeded on the session.
func (c *Conn) TLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls
}

// Timeout returns the last timeout set on the session.
func (c *Conn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Conn) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.killed {
		return errConnClosed
	}
	return nil
}

func (c *Conn) StartTLS(*tls.Config) error {
	if err := c.check(); err != nil {
		return err
	}
	c.dir.record("starttls")
	if err := c.dir.failure("starttls"); err != nil {
		return err
	}

	c.mu.Lock()
	c.tls = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) Bind(username, password string) error {
	if err := c.check(); err != nil {
		return err
	}
	if password == "" {
		return ldap.NewError(ldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client"))
	}
	return c.dir.bind(username, password)
}

func (c *Conn) UnauthenticatedBind(username string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.dir.record("anonymous_bind")
	return c.dir.failure("bind")
}

func (c *Conn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.dir.search(req)
}

// SearchAsync evaluates the search and streams the results from a goroutine
// over an unbuffered channel, as go-ldap does. The producer blocks until each
// result is read, so a caller that stops reading must drain the response.
func (c *Conn) SearchAsync(ctx context.Context, req *ldap.SearchRequest, _ int) ldap.Response {
	r := &response{ch: make(chan item)}

	var items []item
	if err := c.check(); err != nil {
		items = append(items, item{err: err})
	} else {
		result, err := c.dir.search(req)
		if result != nil {
			for _, e := range result.Entries {
				items = append(items, item{entry: e})
			}
			for _, ref := range result.Referrals {
				items = append(items, item{referral: ref})
			}
			if len(result.Controls) > 0 {
				items = append(items, item{controls: result.Controls})
			}
		}
		if err != nil {
			items = append(items, item{err: err})
		}
	}

	c.dir.streams.Add(1)
	go func() {
		defer close(r.ch)
		defer c.dir.streams.Add(-1)

		for _, it := range items {
			if ctx.Err() != nil {
				return
			}
			r.ch <- it
			if it.err != nil {
				return
			}
		}
	}()
	return r
}

func (c *Conn) Add(req *ldap.AddRequest) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.dir.add(req)
}

func (c *Conn) Modify(req *ldap.ModifyRequest) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.dir.modify(req)
}

func (c *Conn) ModifyDN(req *ldap.ModifyDNRequest) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.dir.modifyDN(req)
}

func (c *Conn) Del(req *ldap.DelRequest) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.dir.del(req)
}

func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

func (c *Conn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.killed
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dir.record("close")
	return nil
}

type item struct {
	entry    *ldap.Entry
	referral string
	controls []ldap.Control
	err      error
}

// response reads a streamed search through the ldap.Response interface.
type response struct {
	ch      chan item
	current item
	err     error
}

func (r *response) Next() bool {
	it, ok := <-r.ch
	if !ok {
		return false
	}
	if it.err != nil {
		r.err = it.err
		r.current = item{}
		return false
	}
	r.current = it
	return true
}

func (r *response) Entry() *ldap.Entry {
	return r.current.entry
}

func (r *response) Referral() string {
	return r.current.referral
}

func (r *response) Controls() []ldap.Control {
	return r.current.controls
}

func (r *response) Err() error {
	return r.err
}
