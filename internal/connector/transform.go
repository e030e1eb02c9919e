package connector

import (
	"context"
	"errors"
	"strings"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// MapToEntry builds an entry from a map holding a "dn" key.
func MapToEntry(m map[string]any) (*ldapclient.Entry, error) {
	return ldapclient.NewEntryFromMap(m)
}

// EntryToMap is the map view of an entry, with the DN under "dn".
func EntryToMap(entry *ldapclient.Entry) map[string]any {
	if entry == nil {
		return nil
	}
	return entry.ToMap()
}

// EntryToDirectoryText renders entry in RFC 2849 text format. A nil entry renders as "".
func EntryToDirectoryText(entry *ldapclient.Entry) string {
	if entry == nil {
		return ""
	}
	return entry.ToDirectoryText(ldapclient.WithReadableBinary())
}

// DirectoryText renders entry like EntryToDirectoryText and, when schema
// support is enabled, base64-encodes values whose syntax is not human readable.
func (c *Connector) DirectoryText(ctx context.Context, entry *ldapclient.Entry) (string, error) {
	if entry == nil {
		return "", nil
	}
	if !c.config.SchemaEnabled {
		return EntryToDirectoryText(entry), nil
	}

	ctx = initializeLogging(ctx)
	return withSession(ctx, c, "directory_text", func(conn *ldapclient.Connection) (string, error) {
		var lookupErr error
		text := entry.ToDirectoryText(
			ldapclient.WithReadableBinary(),
			ldapclient.WithSyntaxLookup(func(attribute string) (string, bool) {
				def, err := conn.AttributeTypeDefinition(ctx, attribute)
				if err != nil {
					if !ldapclient.IsNotFoundError(err) {
						lookupErr = errors.Join(lookupErr, err)
					}
					return "", false
				}
				return def.Syntax, def.Syntax != ""
			}),
		)
		if lookupErr != nil {
			return "", lookupErr
		}
		return text, nil
	})
}

func isDNKey(key string) bool {
	return strings.EqualFold(key, ldapclient.DNKey)
}
