package ldap

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// responseRecorder keeps the last asynchronous search response.
type responseRecorder struct {
	Transport
	response ldap.Response
}

func (r *responseRecorder) SearchAsync(ctx context.Context, req *ldap.SearchRequest, bufferSize int) ldap.Response {
	r.response = r.Transport.SearchAsync(ctx, req, bufferSize)
	return r.response
}

func ldapMessage(id int64, op *ber.Packet) *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))
	packet.AppendChild(op)
	return packet
}

func searchResultEntry(dn, uid string) *ber.Packet {
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationSearchResultEntry, nil, "Search Result Entry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, dn, "Object Name"))

	values := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Attribute Values")
	values.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, uid, "Attribute Value"))
	attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attribute")
	attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "uid", "Attribute Name"))
	attr.AppendChild(values)
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	attrs.AppendChild(attr)

	entry.AppendChild(attrs)
	return entry
}

func searchResultDone() *ber.Packet {
	done := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ldap.ApplicationSearchResultDone, nil, "Search Result Done")
	done.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(ldap.LDAPResultSuccess), "Result Code"))
	done.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "Matched DN"))
	done.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "Diagnostic Message"))
	return done
}

// serveEntries answers every search on conn with count entries until the
// client goes away. Requests are read while responses are still being
// written, since net.Pipe has no buffering.
func serveEntries(conn net.Conn, count int) {
	out := make(chan *ber.Packet, 4*(count+1))
	go func() {
		defer conn.Close()
		for packet := range out {
			if _, err := conn.Write(packet.Bytes()); err != nil {
				return
			}
		}
	}()
	defer close(out)

	for {
		packet, err := ber.ReadPacket(conn)
		if err != nil || len(packet.Children) < 2 {
			return
		}
		id, _ := packet.Children[0].Value.(int64)

		switch packet.Children[1].Tag {
		case ldap.ApplicationSearchRequest:
			for i := range count {
				uid := fmt.Sprintf("user%02d", i)
				out <- ldapMessage(id, searchResultEntry("uid="+uid+","+testPeopleDN, uid))
			}
			out <- ldapMessage(id, searchResultDone())
		case ldap.ApplicationUnbindRequest:
			return
		}
	}
}

// within runs fn and fails the test when it does not return in time.
func within(t *testing.T, d time.Duration, what string, fn func() error) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		require.NoError(t, err, what)
	case <-time.After(d):
		t.Fatalf("%s did not finish within %s", what, d)
	}
}

func TestSimpleCursor_CloseReleasesGoLDAPConn(t *testing.T) {
	const entries = 50

	client, server := net.Pipe()
	go serveEntries(server, entries)

	conn := ldap.NewConn(client, false)
	conn.Start()

	transport := &responseRecorder{Transport: conn}
	req := newSearchRequest(testPeopleDN, "(uid=*)", nil, 0)
	cursor := newSimpleCursor(t.Context(), transport, req, cursorSource{baseDN: testPeopleDN})

	entry, err := cursor.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "uid=user00,"+testPeopleDN, entry.DN())

	require.NoError(t, cursor.Close())

	// The response channel closes once the search goroutine has returned
	within(t, 5*time.Second, "search goroutine", func() error {
		if transport.response.Next() {
			return fmt.Errorf("response still delivering results after Close")
		}
		return nil
	})

	within(t, 5*time.Second, "second search", func() error {
		result, err := conn.Search(newSearchRequest(testPeopleDN, "(uid=*)", nil, 0))
		if err != nil {
			return err
		}
		if len(result.Entries) != entries {
			return fmt.Errorf("got %d entries, want %d", len(result.Entries), entries)
		}
		return nil
	})

	within(t, 5*time.Second, "close", conn.Close)
}
