package ldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// criticalControl marks a request control critical. go-ldap encodes paging
// and sorting without a criticality flag, which lets a server that lacks them
// silently return unpaged or unsorted results.
type criticalControl struct {
	ldap.Control
}

func critical(ctrl ldap.Control) ldap.Control {
	return criticalControl{Control: ctrl}
}

func (c criticalControl) Encode() *ber.Packet {
	inner := c.Control.Encode()

	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(inner.Children[0])
	packet.AppendChild(ber.NewLDAPBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	for _, child := range inner.Children[1:] {
		// Drop any criticality the inner control already carries
		if _, ok := child.Value.(bool); ok && child.Tag == ber.TagBoolean {
			continue
		}
		packet.AppendChild(child)
	}
	return packet
}

func (c criticalControl) String() string {
	return fmt.Sprintf("%s (critical)", c.Control.String())
}

// sortControl is the RFC 2891 server side sorting request. Unlike go-ldap's
// version it leaves out orderingRule when no matching rule is set, since an
// empty OID is not a valid rule.
type sortControl struct {
	keys []SortKey
}

func newSortControl(keys []SortKey) ldap.Control {
	return critical(&sortControl{keys: keys})
}

func (c *sortControl) GetControlType() string {
	return ldap.ControlTypeServerSideSorting
}

func (c *sortControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.GetControlType(), "Control Type"))

	value := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
	list := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SortKeyList")
	for _, k := range c.keys {
		key := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SortKey")
		key.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, k.AttributeName, "attributeType"))
		if k.MatchingRuleID != "" {
			key.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, k.MatchingRuleID, "orderingRule"))
		}
		if !k.Ascending {
			key.AppendChild(ber.NewLDAPBoolean(ber.ClassContext, ber.TypePrimitive, 1, true, "reverseOrder"))
		}
		list.AppendChild(key)
	}
	value.AppendChild(list)
	packet.AppendChild(value)
	return packet
}

func (c *sortControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q) SortKeys: %+v",
		ldap.ControlTypeMap[ldap.ControlTypeServerSideSorting], ldap.ControlTypeServerSideSorting, c.keys)
}
