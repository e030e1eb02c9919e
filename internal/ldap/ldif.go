package ldap

import (
	"encoding/base64"
	"strings"
)

// TextOption tunes directory text rendering.
type TextOption func(*textOptions)

type textOptions struct {
	readableBinary bool
	syntaxOf       func(attribute string) (string, bool)
}

// WithReadableBinary renders objectSid and objectGUID values in their
// textual forms instead of base64.
func WithReadableBinary() TextOption {
	return func(o *textOptions) {
		o.readableBinary = true
	}
}

// WithSyntaxLookup forces base64 output for attributes whose syntax is not
// human readable.
func WithSyntaxLookup(lookup func(attribute string) (string, bool)) TextOption {
	return func(o *textOptions) {
		o.syntaxOf = lookup
	}
}

// ToDirectoryText renders the entry in RFC 2849 text format: a dn line, one
// line per attribute value, then a terminating blank line.
func (e *Entry) ToDirectoryText(opts ...TextOption) string {
	var o textOptions
	for _, opt := range opts {
		opt(&o)
	}

	var b strings.Builder
	writeLine(&b, DNKey, e.dn, false)

	for _, attr := range e.Attributes() {
		binary := false
		if o.syntaxOf != nil {
			if oid, ok := o.syntaxOf(attr.Name()); ok {
				binary = !IsHumanReadableSyntax(oid)
			}
		}

		for _, v := range attr.values {
			if o.readableBinary {
				if text, ok := RenderBinaryValue(attr.Name(), []byte(v)); ok {
					writeLine(&b, attr.Name(), text, false)
					continue
				}
			}
			writeLine(&b, attr.Name(), v, binary)
		}
	}

	b.WriteString("\n")
	return b.String()
}

func writeLine(b *strings.Builder, name, value string, forceBase64 bool) {
	b.WriteString(name)
	if forceBase64 || !isSafeString(value) {
		b.WriteString(":: ")
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(value)))
	} else {
		b.WriteString(": ")
		b.WriteString(value)
	}
	b.WriteString("\n")
}

// isSafeString reports whether value is an RFC 2849 SAFE-STRING that may be
// written without base64 encoding.
func isSafeString(value string) bool {
	if value == "" {
		return true
	}

	switch value[0] {
	case ' ', ':', '<':
		return false
	}

	if value[len(value)-1] == ' ' {
		return false
	}

	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == 0 || c == '\n' || c == '\r' || c > 0x7f {
			return false
		}
	}
	return true
}
