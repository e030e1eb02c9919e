package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
)

// Well-known binary attributes with a textual rendering.
const (
	AttributeObjectSID  = "objectSid"
	AttributeObjectGUID = "objectGUID"

	guidBytesLength = 16
)

// RenderBinaryValue converts well-known binary attribute values to text.
// It reports false when the attribute is not recognised or the value is malformed.
func RenderBinaryValue(attribute string, raw []byte) (string, bool) {
	switch {
	case strings.EqualFold(attribute, AttributeObjectSID):
		sid, err := SIDToString(raw)
		return sid, err == nil
	case strings.EqualFold(attribute, AttributeObjectGUID):
		guid, err := GUIDToString(raw)
		return guid, err == nil
	default:
		return "", false
	}
}

// SIDToString converts a binary security identifier to S-R-I-S... form.
func SIDToString(raw []byte) (string, error) {
	if len(raw) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(raw))
	}

	subAuthorities := int(raw[1])
	if len(raw) != 8+4*subAuthorities {
		return "", fmt.Errorf("binary SID length %d does not match %d sub-authorities", len(raw), subAuthorities)
	}

	return objectsid.Decode(raw).String(), nil
}

// GUIDToString converts a mixed-endian directory GUID to canonical UUID text.
func GUIDToString(raw []byte) (string, error) {
	if len(raw) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(raw))
	}

	standard := make([]byte, guidBytesLength)

	// Data1, Data2 and Data3 are little-endian on the wire
	standard[0], standard[1], standard[2], standard[3] = raw[3], raw[2], raw[1], raw[0]
	standard[4], standard[5] = raw[5], raw[4]
	standard[6], standard[7] = raw[7], raw[6]
	copy(standard[8:], raw[8:])

	id, err := uuid.FromBytes(standard)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
