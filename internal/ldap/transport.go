package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Transport is the subset of *ldap.Conn a Connection drives.
type Transport interface {
	StartTLS(*tls.Config) error
	Bind(username, password string) error
	UnauthenticatedBind(username string) error

	Search(*ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchAsync(ctx context.Context, searchRequest *ldap.SearchRequest, bufferSize int) ldap.Response

	Add(*ldap.AddRequest) error
	Modify(*ldap.ModifyRequest) error
	ModifyDN(*ldap.ModifyDNRequest) error
	Del(*ldap.DelRequest) error

	SetTimeout(time.Duration)
	IsClosing() bool
	Close() error
}

var _ Transport = (*ldap.Conn)(nil)

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context, url string, opts DialOptions) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, opts DialOptions) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, url string, opts DialOptions) (Transport, error) {
	return f(ctx, url, opts)
}

// DefaultDialer dials with go-ldap.
var DefaultDialer Dialer = DialerFunc(dialURL)

func dialURL(ctx context.Context, url string, opts DialOptions) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	conn, err := ldap.DialURL(url, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(opts.TLSConfig))
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		conn.SetTimeout(opts.Timeout)
	}
	return conn, nil
}
