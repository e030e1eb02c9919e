package ldap

import (
	"context"
	"slices"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// AttributeTypeResolver returns the schema definition of an attribute.
type AttributeTypeResolver interface {
	AttributeTypeDefinition(ctx context.Context, name string) (*AttributeTypeDefinition, error)
}

// BuildEntry converts wire attributes into an Entry. With a resolver the
// attribute shape comes from the schema; without one an attribute is
// multi-valued only when more than one value came back, so a multi-valued
// attribute holding a single value is reported as single-valued. A
// single-valued attribute that comes back with several values is kept
// multi-valued so no value is lost.
func BuildEntry(ctx context.Context, dn string, attrs []*ldap.EntryAttribute, schema AttributeTypeResolver) (*Entry, error) {
	entry := NewEntry(dn)

	for _, wire := range attrs {
		if wire == nil {
			continue
		}

		multi := len(wire.Values) > 1
		if schema != nil {
			def, err := schema.AttributeTypeDefinition(ctx, wire.Name)
			if err != nil {
				return nil, NewLDAPError("schema_lookup", err, WithDN(dn))
			}
			multi = !def.SingleValued
			if !multi && len(wire.Values) > 1 {
				// Keep every value rather than dropping all but the first
				tflog.SubsystemWarn(ctx, "schema", "Single-valued attribute returned several values", map[string]any{
					"dn":        dn,
					"attribute": wire.Name,
					"values":    len(wire.Values),
				})
				multi = true
			}
		}

		if multi {
			entry.SetAttribute(NewMultiValueAttribute(wire.Name, wire.Values...))
		} else if len(wire.Values) > 0 {
			entry.SetAttribute(NewSingleValueAttribute(wire.Name, wire.Values[0]))
		} else {
			entry.SetAttribute(NewSingleValueAttribute(wire.Name, ""))
		}
	}

	return entry, nil
}

// QualifyDN appends the search base to a name that is relative to it.
func QualifyDN(dn, baseDN string) string {
	switch {
	case baseDN == "":
		return dn
	case dn == "":
		return baseDN
	case isDescendantOrSelf(dn, baseDN):
		return dn
	default:
		return dn + "," + baseDN
	}
}

func isDescendantOrSelf(dn, baseDN string) bool {
	child, err := ldap.ParseDN(dn)
	if err != nil {
		return false
	}
	base, err := ldap.ParseDN(baseDN)
	if err != nil {
		return false
	}

	if len(child.RDNs) < len(base.RDNs) {
		return false
	}

	suffix := child.RDNs[len(child.RDNs)-len(base.RDNs):]
	return slices.EqualFunc(suffix, base.RDNs, func(a, b *ldap.RelativeDN) bool {
		return a.EqualFold(b)
	})
}
