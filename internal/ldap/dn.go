package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	_, err := ldap.ParseDN(dn)
	if err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// SplitDN separates the leading RDN from the parent DN.
// For example, "cn=John,ou=Users,dc=example,dc=com" yields "cn=John" and
// "ou=Users,dc=example,dc=com". A single-RDN name has an empty parent.
func SplitDN(dn string) (rdn, parent string, err error) {
	if dn == "" {
		return "", "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) == 0 {
		return "", "", fmt.Errorf("DN has no components: %s", dn)
	}

	return formatRDN(parsedDN.RDNs[0]), formatDN(parsedDN.RDNs[1:]), nil
}

// GetDNParent returns the parent DN by removing the first RDN component.
func GetDNParent(dn string) (string, error) {
	_, parent, err := SplitDN(dn)
	if err != nil {
		return "", err
	}
	if parent == "" {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}
	return parent, nil
}

func formatDN(rdns []*ldap.RelativeDN) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		parts = append(parts, formatRDN(rdn))
	}
	return strings.Join(parts, ",")
}

// formatRDN keeps attribute types as written and re-escapes values,
// which ParseDN returns unescaped.
func formatRDN(rdn *ldap.RelativeDN) string {
	parts := make([]string, 0, len(rdn.Attributes))
	for _, attr := range rdn.Attributes {
		parts = append(parts, attr.Type+"="+EscapeDNValue(attr.Value))
	}
	return strings.Join(parts, "+")
}

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "Doe, John" → "Doe\, John"
//   - " John " → "\ John\ "
//   - "#123" → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}
