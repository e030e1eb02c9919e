package ldaptest

import (
	"errors"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// SortKey is one decoded server side sorting key.
type SortKey struct {
	AttributeType   string
	OrderingRule    string
	HasOrderingRule bool
	Reverse         bool
}

// RequestControl is a request control as a server reads it off the wire.
type RequestControl struct {
	Type     string
	Critical bool

	// Paged results
	PagingSize uint32
	Cookie     []byte

	// Server side sorting
	SortKeys []SortKey
}

// ParseControl encodes ctrl and decodes it again the way a server would, so
// criticality and the exact value encoding are what the client put on the wire.
func ParseControl(ctrl ldap.Control) (*RequestControl, error) {
	packet, err := ber.DecodePacketErr(ctrl.Encode().Bytes())
	if err != nil {
		return nil, fmt.Errorf("decode control: %w", err)
	}
	if len(packet.Children) == 0 || len(packet.Children) > 3 {
		return nil, fmt.Errorf("control has %d elements", len(packet.Children))
	}

	oid, ok := packet.Children[0].Value.(string)
	if !ok || oid == "" {
		return nil, errors.New("control type is missing")
	}
	rc := &RequestControl{Type: oid}

	var value *ber.Packet
	for _, child := range packet.Children[1:] {
		if critical, ok := child.Value.(bool); ok && child.ClassType == ber.ClassUniversal && child.Tag == ber.TagBoolean {
			rc.Critical = critical
			continue
		}
		value = child
	}

	switch oid {
	case ldap.ControlTypePaging:
		err = rc.parsePaging(value)
	case ldap.ControlTypeServerSideSorting:
		err = rc.parseSorting(value)
	}
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", oid, err)
	}
	return rc, nil
}

func controlValue(value *ber.Packet) (*ber.Packet, error) {
	if value == nil {
		return nil, errors.New("control value is missing")
	}
	return ber.DecodePacketErr(value.Data.Bytes())
}

func (rc *RequestControl) parsePaging(value *ber.Packet) error {
	seq, err := controlValue(value)
	if err != nil {
		return err
	}
	if len(seq.Children) != 2 {
		return errors.New("paging value must hold size and cookie")
	}
	size, ok := seq.Children[0].Value.(int64)
	if !ok || size < 0 {
		return errors.New("invalid paging size")
	}
	rc.PagingSize = uint32(size)
	rc.Cookie = seq.Children[1].Data.Bytes()
	return nil
}

func (rc *RequestControl) parseSorting(value *ber.Packet) error {
	list, err := controlValue(value)
	if err != nil {
		return err
	}
	if len(list.Children) == 0 {
		return errors.New("empty sort key list")
	}

	for _, seq := range list.Children {
		if len(seq.Children) == 0 {
			return errors.New("sort key without attribute type")
		}
		key := SortKey{AttributeType: packetString(seq.Children[0])}
		for _, child := range seq.Children[1:] {
			if child.ClassType != ber.ClassContext {
				return fmt.Errorf("unexpected sort key element %d", child.Tag)
			}
			switch child.Tag {
			case 0:
				key.HasOrderingRule = true
				key.OrderingRule = child.Data.String()
				if key.OrderingRule == "" {
					return errors.New("empty orderingRule")
				}
			case 1:
				b := child.Data.Bytes()
				key.Reverse = len(b) == 1 && b[0] != 0
			default:
				return fmt.Errorf("unexpected sort key element %d", child.Tag)
			}
		}
		rc.SortKeys = append(rc.SortKeys, key)
	}
	return nil
}
