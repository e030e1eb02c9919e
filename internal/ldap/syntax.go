package ldap

// SyntaxDescription describes an RFC 4517 attribute syntax.
type SyntaxDescription struct {
	OID           string
	Description   string
	HumanReadable bool
}

var syntaxes = map[string]SyntaxDescription{}

func registerSyntax(description string, humanReadable bool, oid string) {
	syntaxes[oid] = SyntaxDescription{OID: oid, Description: description, HumanReadable: humanReadable}
}

func init() {
	registerSyntax("ACI Item", false, "1.3.6.1.4.1.1466.115.121.1.1")
	registerSyntax("Access Point", true, "1.3.6.1.4.1.1466.115.121.1.2")
	registerSyntax("Attribute Type Description", true, "1.3.6.1.4.1.1466.115.121.1.3")
	registerSyntax("Audio", false, "1.3.6.1.4.1.1466.115.121.1.4")
	registerSyntax("Binary", false, "1.3.6.1.4.1.1466.115.121.1.5")
	registerSyntax("Bit String", true, "1.3.6.1.4.1.1466.115.121.1.6")
	registerSyntax("Boolean", true, "1.3.6.1.4.1.1466.115.121.1.7")
	registerSyntax("Certificate", false, "1.3.6.1.4.1.1466.115.121.1.8")
	registerSyntax("Certificate List", false, "1.3.6.1.4.1.1466.115.121.1.9")
	registerSyntax("Certificate Pair", false, "1.3.6.1.4.1.1466.115.121.1.10")
	registerSyntax("Country String", true, "1.3.6.1.4.1.1466.115.121.1.11")
	registerSyntax("DN", true, "1.3.6.1.4.1.1466.115.121.1.12")
	registerSyntax("Data Quality Syntax", true, "1.3.6.1.4.1.1466.115.121.1.13")
	registerSyntax("Delivery Method", true, "1.3.6.1.4.1.1466.115.121.1.14")
	registerSyntax("Directory String", true, "1.3.6.1.4.1.1466.115.121.1.15")
	registerSyntax("DIT Content Rule Description", true, "1.3.6.1.4.1.1466.115.121.1.16")
	registerSyntax("DIT Structure Rule Description", true, "1.3.6.1.4.1.1466.115.121.1.17")
	registerSyntax("DL Submit Permission", true, "1.3.6.1.4.1.1466.115.121.1.18")
	registerSyntax("DSA Quality Syntax", true, "1.3.6.1.4.1.1466.115.121.1.19")
	registerSyntax("DSE Type", true, "1.3.6.1.4.1.1466.115.121.1.20")
	registerSyntax("Enhanced Guide", true, "1.3.6.1.4.1.1466.115.121.1.21")
	registerSyntax("Facsimile Telephone Number", true, "1.3.6.1.4.1.1466.115.121.1.22")
	registerSyntax("Fax", false, "1.3.6.1.4.1.1466.115.121.1.23")
	registerSyntax("Generalized Time", true, "1.3.6.1.4.1.1466.115.121.1.24")
	registerSyntax("Guide", true, "1.3.6.1.4.1.1466.115.121.1.25")
	registerSyntax("IA5 String", true, "1.3.6.1.4.1.1466.115.121.1.26")
	registerSyntax("INTEGER", true, "1.3.6.1.4.1.1466.115.121.1.27")
	registerSyntax("JPEG", false, "1.3.6.1.4.1.1466.115.121.1.28")
	registerSyntax("Master And Shadow Access Points", true, "1.3.6.1.4.1.1466.115.121.1.29")
	registerSyntax("Matching Rule Description", true, "1.3.6.1.4.1.1466.115.121.1.30")
	registerSyntax("Matching Rule Use Description", true, "1.3.6.1.4.1.1466.115.121.1.31")
	registerSyntax("Mail Preference", true, "1.3.6.1.4.1.1466.115.121.1.32")
	registerSyntax("MHS OR Address", true, "1.3.6.1.4.1.1466.115.121.1.33")
	registerSyntax("Name And Optional UID", true, "1.3.6.1.4.1.1466.115.121.1.34")
	registerSyntax("Name Form Description", true, "1.3.6.1.4.1.1466.115.121.1.35")
	registerSyntax("Numeric String", true, "1.3.6.1.4.1.1466.115.121.1.36")
	registerSyntax("Object Class Description", true, "1.3.6.1.4.1.1466.115.121.1.37")
	registerSyntax("OID", true, "1.3.6.1.4.1.1466.115.121.1.38")
	registerSyntax("Other Mailbox", true, "1.3.6.1.4.1.1466.115.121.1.39")
	registerSyntax("Octet String", true, "1.3.6.1.4.1.1466.115.121.1.40")
	registerSyntax("Postal Address", true, "1.3.6.1.4.1.1466.115.121.1.41")
	registerSyntax("Protocol Information", true, "1.3.6.1.4.1.1466.115.121.1.42")
	registerSyntax("Presentation Address", true, "1.3.6.1.4.1.1466.115.121.1.43")
	registerSyntax("Printable String", true, "1.3.6.1.4.1.1466.115.121.1.44")
	registerSyntax("Subtree Specification", true, "1.3.6.1.4.1.1466.115.121.1.45")
	registerSyntax("Supplier Information", true, "1.3.6.1.4.1.1466.115.121.1.46")
	registerSyntax("Supplier Or Consumer", true, "1.3.6.1.4.1.1466.115.121.1.47")
	registerSyntax("Supplier And Consumer", true, "1.3.6.1.4.1.1466.115.121.1.48")
	registerSyntax("Supported Algorithm", false, "1.3.6.1.4.1.1466.115.121.1.49")
	registerSyntax("Telephone Number", true, "1.3.6.1.4.1.1466.115.121.1.50")
	registerSyntax("Teletex Terminal Identifier", true, "1.3.6.1.4.1.1466.115.121.1.51")
	registerSyntax("Telex Number", true, "1.3.6.1.4.1.1466.115.121.1.52")
	registerSyntax("UTC Time", true, "1.3.6.1.4.1.1466.115.121.1.53")
	registerSyntax("LDAP Syntax Description", true, "1.3.6.1.4.1.1466.115.121.1.54")
	registerSyntax("Modify Rights", true, "1.3.6.1.4.1.1466.115.121.1.55")
	registerSyntax("LDAP Schema Definition", true, "1.3.6.1.4.1.1466.115.121.1.56")
	registerSyntax("LDAP Schema Description", true, "1.3.6.1.4.1.1466.115.121.1.57")
	registerSyntax("Substring Assertion", true, "1.3.6.1.4.1.1466.115.121.1.58")
}

// LookupSyntax returns the description of a syntax OID. A trailing length
// bound such as {64} is ignored.
func LookupSyntax(oid string) (SyntaxDescription, bool) {
	s, ok := syntaxes[stripSyntaxLength(oid)]
	return s, ok
}

// IsHumanReadableSyntax reports whether values of the syntax are text.
// Unknown syntaxes are treated as text.
func IsHumanReadableSyntax(oid string) bool {
	s, ok := LookupSyntax(oid)
	return !ok || s.HumanReadable
}

func stripSyntaxLength(oid string) string {
	for i := 0; i < len(oid); i++ {
		if oid[i] == '{' {
			return oid[:i]
		}
	}
	return oid
}
