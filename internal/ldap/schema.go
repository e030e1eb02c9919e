package ldap

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ObjectClassKind is the RFC 4512 kind of an object class.
type ObjectClassKind string

const (
	ObjectClassAbstract   ObjectClassKind = "abstract"
	ObjectClassStructural ObjectClassKind = "structural"
	ObjectClassAuxiliary  ObjectClassKind = "auxiliary"
)

// AttributeTypeDefinition is a parsed attributeTypes description.
// Definitions are shared between callers through the schema cache and must
// not be modified.
type AttributeTypeDefinition struct {
	NumericOID         string   `json:"oid"`
	Name               string   `json:"name"`
	Names              []string `json:"names,omitempty"`
	Description        string   `json:"description,omitempty"`
	Syntax             string   `json:"syntax,omitempty"`
	SingleValued       bool     `json:"singleValued"`
	Obsolete           bool     `json:"obsolete,omitempty"`
	SupName            string   `json:"sup,omitempty"`
	Equality           string   `json:"equality,omitempty"`
	Ordering           string   `json:"ordering,omitempty"`
	Substring          string   `json:"substring,omitempty"`
	Collective         bool     `json:"collective,omitempty"`
	NoUserModification bool     `json:"noUserModification,omitempty"`
	Usage              string   `json:"usage,omitempty"`
}

// Equal compares definitions by numeric OID.
func (d *AttributeTypeDefinition) Equal(other *AttributeTypeDefinition) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.NumericOID == other.NumericOID
}

// HasName reports whether name is one of the definition's names, ignoring case.
func (d *AttributeTypeDefinition) HasName(name string) bool {
	return hasName(d.Names, d.NumericOID, name)
}

// HumanReadable reports whether values of this attribute are text.
func (d *AttributeTypeDefinition) HumanReadable() bool {
	return d.Syntax == "" || IsHumanReadableSyntax(d.Syntax)
}

func (d *AttributeTypeDefinition) String() string {
	if d.Name != "" {
		return d.Name
	}
	return d.NumericOID
}

// ObjectClassDefinition is a parsed objectClasses description.
type ObjectClassDefinition struct {
	NumericOID  string          `json:"oid"`
	Name        string          `json:"name"`
	Names       []string        `json:"names,omitempty"`
	Description string          `json:"description,omitempty"`
	Obsolete    bool            `json:"obsolete,omitempty"`
	SupNames    []string        `json:"sup,omitempty"`
	Kind        ObjectClassKind `json:"kind"`
	Must        []string        `json:"must,omitempty"`
	May         []string        `json:"may,omitempty"`
}

// Equal compares definitions by numeric OID.
func (d *ObjectClassDefinition) Equal(other *ObjectClassDefinition) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.NumericOID == other.NumericOID
}

// HasName reports whether name is one of the definition's names, ignoring case.
func (d *ObjectClassDefinition) HasName(name string) bool {
	return hasName(d.Names, d.NumericOID, name)
}

func (d *ObjectClassDefinition) String() string {
	if d.Name != "" {
		return d.Name
	}
	return d.NumericOID
}

func hasName(names []string, oid, name string) bool {
	if strings.EqualFold(oid, name) {
		return true
	}
	return slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, name) })
}

var (
	oidPattern        = regexp.MustCompile(`^ \( (\S+) `)
	namePattern       = regexp.MustCompile(` NAME '(.*?)' `)
	namesPattern      = regexp.MustCompile(` NAME \( (.*?) \) `)
	descPattern       = regexp.MustCompile(` DESC '((?:[^'\\]|\\.)*)' `)
	equalityPattern   = regexp.MustCompile(` EQUALITY (.*?) `)
	syntaxPattern     = regexp.MustCompile(` SYNTAX (.*?) `)
	substrPattern     = regexp.MustCompile(` SUBSTR (.*?) `)
	orderingPattern   = regexp.MustCompile(` ORDERING (.*?) `)
	supPattern        = regexp.MustCompile(` SUP (.*?) `)
	multiSupPattern   = regexp.MustCompile(` SUP \( (.*?) \) `)
	usagePattern      = regexp.MustCompile(` USAGE (.*?) `)
	structuralPattern = regexp.MustCompile(` STRUCTURAL `)
	abstractPattern   = regexp.MustCompile(` ABSTRACT `)
	auxiliaryPattern  = regexp.MustCompile(` AUXILIARY `)
	mustPattern       = regexp.MustCompile(` MUST (.*?) `)
	multiMustPattern  = regexp.MustCompile(` MUST \( (.*?) \) `)
	mayPattern        = regexp.MustCompile(` MAY (.*?) `)
	multiMayPattern   = regexp.MustCompile(` MAY \( (.*?) \) `)
)

// ParseAttributeTypeDefinition parses one RFC 4512 AttributeTypeDescription,
// as found in the attributeTypes attribute of a subschema entry.
func ParseAttributeTypeDefinition(raw string) (*AttributeTypeDefinition, error) {
	line, desc, oid, err := prepareDescription(raw)
	if err != nil {
		return nil, err
	}

	names := parseNames(line)
	def := &AttributeTypeDefinition{
		NumericOID:         oid,
		Names:              names,
		Description:        desc,
		Syntax:             firstSubmatch(syntaxPattern, line),
		SingleValued:       strings.Contains(line, " SINGLE-VALUE "),
		Obsolete:           strings.Contains(line, " OBSOLETE "),
		SupName:            firstSubmatch(supPattern, line),
		Equality:           firstSubmatch(equalityPattern, line),
		Ordering:           firstSubmatch(orderingPattern, line),
		Substring:          firstSubmatch(substrPattern, line),
		Collective:         strings.Contains(line, " COLLECTIVE "),
		NoUserModification: strings.Contains(line, " NO-USER-MODIFICATION "),
		Usage:              firstSubmatch(usagePattern, line),
	}
	if len(names) > 0 {
		def.Name = names[0]
	}
	return def, nil
}

// ParseObjectClassDefinition parses one RFC 4512 ObjectClassDescription.
func ParseObjectClassDefinition(raw string) (*ObjectClassDefinition, error) {
	line, desc, oid, err := prepareDescription(raw)
	if err != nil {
		return nil, err
	}

	names := parseNames(line)
	def := &ObjectClassDefinition{
		NumericOID:  oid,
		Names:       names,
		Description: desc,
		Obsolete:    strings.Contains(line, " OBSOLETE "),
		SupNames:    parseOIDList(line, multiSupPattern, supPattern),
		Must:        parseOIDList(line, multiMustPattern, mustPattern),
		May:         parseOIDList(line, multiMayPattern, mayPattern),
	}
	if len(names) > 0 {
		def.Name = names[0]
	}

	// RFC 4512 defaults to STRUCTURAL when no kind is given
	switch {
	case abstractPattern.MatchString(line):
		def.Kind = ObjectClassAbstract
	case auxiliaryPattern.MatchString(line):
		def.Kind = ObjectClassAuxiliary
	case structuralPattern.MatchString(line):
		def.Kind = ObjectClassStructural
	default:
		def.Kind = ObjectClassStructural
	}
	return def, nil
}

// prepareDescription pads the description so every keyword is surrounded by
// spaces and removes the DESC string, which may contain keywords of its own.
func prepareDescription(raw string) (line, desc, oid string, err error) {
	line = " " + strings.Join(strings.Fields(raw), " ") + " "

	if m := descPattern.FindStringSubmatchIndex(line); m != nil {
		desc = line[m[2]:m[3]]
		line = line[:m[0]] + " " + line[m[1]:]
	}

	og := oidPattern.FindStringSubmatch(line)
	if og == nil {
		return "", "", "", fmt.Errorf("malformed schema description: %q", raw)
	}
	return line, desc, og[1], nil
}

func parseNames(line string) []string {
	if ng := namePattern.FindStringSubmatch(line); ng != nil {
		return []string{ng[1]}
	}
	if nsg := namesPattern.FindStringSubmatch(line); nsg != nil {
		return strings.Fields(strings.ReplaceAll(nsg[1], "'", ""))
	}
	return nil
}

func parseOIDList(line string, multi, single *regexp.Regexp) []string {
	if m := multi.FindStringSubmatch(line); m != nil {
		var oids []string
		for v := range strings.SplitSeq(m[1], "$") {
			if v = strings.TrimSpace(v); v != "" {
				oids = append(oids, v)
			}
		}
		return oids
	}
	if s := firstSubmatch(single, line); s != "" && s != "(" {
		return []string{s}
	}
	return nil
}

func firstSubmatch(pattern *regexp.Regexp, line string) string {
	if m := pattern.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}
