package connector

import (
	"context"
	"errors"
	"maps"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/ldap-connector/internal/ldap"
)

// Add creates entry with all of its attributes.
func (c *Connector) Add(ctx context.Context, entry *ldapclient.Entry) error {
	ctx = initializeLogging(ctx)
	err := c.run(ctx, "add_entry", func(conn *ldapclient.Connection) error {
		return conn.AddEntry(ctx, entry)
	})
	if err == nil {
		tflog.SubsystemInfo(ctx, "connector", "Added entry", map[string]any{"dn": entry.DN()})
	}
	return err
}

// AddFromMap creates an entry from a map. A non-empty dn overrides the map's "dn" key.
func (c *Connector) AddFromMap(ctx context.Context, dn string, attributes map[string]any) error {
	entry, err := entryFromMap(dn, attributes)
	if err != nil {
		return err
	}
	return c.Add(ctx, entry)
}

// Modify replaces every attribute present on entry. Attributes it does not
// carry are left untouched.
func (c *Connector) Modify(ctx context.Context, entry *ldapclient.Entry) error {
	ctx = initializeLogging(ctx)
	err := c.run(ctx, "update_entry", func(conn *ldapclient.Connection) error {
		return conn.UpdateEntry(ctx, entry)
	})
	if err == nil {
		tflog.SubsystemInfo(ctx, "connector", "Updated entry", map[string]any{"dn": entry.DN()})
	}
	return err
}

// ModifyFromMap updates an entry from a map. A non-empty dn overrides the map's "dn" key.
func (c *Connector) ModifyFromMap(ctx context.Context, dn string, attributes map[string]any) error {
	entry, err := entryFromMap(dn, attributes)
	if err != nil {
		return err
	}
	return c.Modify(ctx, entry)
}

// Delete removes the entry named dn.
func (c *Connector) Delete(ctx context.Context, dn string) error {
	ctx = initializeLogging(ctx)
	err := c.run(ctx, "delete_entry", func(conn *ldapclient.Connection) error {
		return conn.DeleteEntry(ctx, dn)
	})
	if err == nil {
		tflog.SubsystemInfo(ctx, "connector", "Deleted entry", map[string]any{"dn": dn})
	}
	return err
}

// Rename renames oldDN to newDN, moving it when the parent changes.
func (c *Connector) Rename(ctx context.Context, oldDN, newDN string) error {
	ctx = initializeLogging(ctx)
	err := c.run(ctx, "rename_entry", func(conn *ldapclient.Connection) error {
		return conn.RenameEntry(ctx, oldDN, newDN)
	})
	if err == nil {
		tflog.SubsystemInfo(ctx, "connector", "Renamed entry", map[string]any{
			"old_dn": oldDN,
			"new_dn": newDN,
		})
	}
	return err
}

// attributeChange selects the modification an attribute operation sends.
type attributeChange int

const (
	changeAdd attributeChange = iota
	changeReplace
	changeDelete
)

func (ch attributeChange) operation() string {
	switch ch {
	case changeAdd:
		return "add_attribute"
	case changeReplace:
		return "update_attribute"
	default:
		return "delete_attribute"
	}
}

// ignorable reports whether ignoreInvalidAttribute may swallow err: a value
// already present on add, a value already absent on delete, either on replace.
func (ch attributeChange) ignorable(err error) bool {
	var ldapErr *ldapclient.LDAPError
	if !ldapclient.IsInvalidAttributeError(err) || !errors.As(err, &ldapErr) {
		return false
	}

	switch ch {
	case changeAdd:
		return ldapErr.LDAPCode == ldap.LDAPResultAttributeOrValueExists
	case changeDelete:
		return ldapErr.LDAPCode == ldap.LDAPResultNoSuchAttribute
	default:
		return ldapErr.LDAPCode == ldap.LDAPResultAttributeOrValueExists ||
			ldapErr.LDAPCode == ldap.LDAPResultNoSuchAttribute
	}
}

// AddSingleValueAttribute adds value to the attribute of the entry named dn.
func (c *Connector) AddSingleValueAttribute(ctx context.Context, dn, name, value string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeAdd, dn, ldapclient.NewSingleValueAttribute(name, value), ignoreInvalidAttribute)
}

// AddMultiValueAttribute adds values to the attribute of the entry named dn.
func (c *Connector) AddMultiValueAttribute(ctx context.Context, dn, name string, values []string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeAdd, dn, ldapclient.NewMultiValueAttribute(name, values...), ignoreInvalidAttribute)
}

// ModifySingleValueAttribute replaces the attribute values with value.
func (c *Connector) ModifySingleValueAttribute(ctx context.Context, dn, name, value string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeReplace, dn, ldapclient.NewSingleValueAttribute(name, value), ignoreInvalidAttribute)
}

// ModifyMultiValueAttribute replaces the attribute values with values.
func (c *Connector) ModifyMultiValueAttribute(ctx context.Context, dn, name string, values []string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeReplace, dn, ldapclient.NewMultiValueAttribute(name, values...), ignoreInvalidAttribute)
}

// DeleteSingleValueAttribute removes value from the attribute, or the whole
// attribute when value is empty.
func (c *Connector) DeleteSingleValueAttribute(ctx context.Context, dn, name, value string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeDelete, dn, ldapclient.NewSingleValueAttribute(name, value), ignoreInvalidAttribute)
}

// DeleteMultiValueAttribute removes values from the attribute, or the whole
// attribute when values is empty.
func (c *Connector) DeleteMultiValueAttribute(ctx context.Context, dn, name string, values []string, ignoreInvalidAttribute bool) error {
	return c.changeAttribute(ctx, changeDelete, dn, ldapclient.NewMultiValueAttribute(name, values...), ignoreInvalidAttribute)
}

func (c *Connector) changeAttribute(ctx context.Context, change attributeChange, dn string, attr *ldapclient.EntryAttribute, ignoreInvalidAttribute bool) error {
	ctx = initializeLogging(ctx)
	operation := change.operation()

	fields := map[string]any{
		"dn":        dn,
		"attribute": attr.Name(),
		"values":    attr.Values(),
	}
	tflog.SubsystemDebug(ctx, "connector", "About to change attribute", withOperation(fields, operation))

	err := c.run(ctx, operation, func(conn *ldapclient.Connection) error {
		switch change {
		case changeAdd:
			return conn.AddAttribute(ctx, dn, attr)
		case changeReplace:
			return conn.UpdateAttribute(ctx, dn, attr)
		default:
			return conn.DeleteAttribute(ctx, dn, attr)
		}
	})

	if err != nil && ignoreInvalidAttribute && change.ignorable(err) {
		tflog.SubsystemInfo(ctx, "connector", "Ignoring invalid attribute", withOperation(map[string]any{
			"dn":        dn,
			"attribute": attr.Name(),
			"error":     err.Error(),
		}, operation))
		return nil
	}
	if err != nil {
		return err
	}

	tflog.SubsystemInfo(ctx, "connector", "Changed attribute", withOperation(fields, operation))
	return nil
}

func withOperation(fields map[string]any, operation string) map[string]any {
	out := maps.Clone(fields)
	out["operation"] = operation
	return out
}

func entryFromMap(dn string, attributes map[string]any) (*ldapclient.Entry, error) {
	m := maps.Clone(attributes)
	if m == nil {
		m = make(map[string]any)
	}
	if dn != "" {
		for k := range m {
			if isDNKey(k) {
				delete(m, k)
			}
		}
		m[ldapclient.DNKey] = dn
	}
	return ldapclient.NewEntryFromMap(m)
}
