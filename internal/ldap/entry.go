package ldap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// DNKey is the synthetic key under which an Entry exposes its distinguished name.
const DNKey = "dn"

// Entry is a directory entry: a distinguished name plus case-insensitive attributes.
type Entry struct {
	dn    string
	attrs map[string]*EntryAttribute
	order []string
}

// NewEntry creates an empty entry with the given DN.
func NewEntry(dn string) *Entry {
	return &Entry{
		dn:    dn,
		attrs: make(map[string]*EntryAttribute),
	}
}

// NewEntryFromMap builds an entry for the write path. The map must carry a
// non-empty "dn" key; attribute shapes are inferred per NewAttribute.
func NewEntryFromMap(m map[string]any) (*Entry, error) {
	var dn string
	for k, v := range m {
		if !isDNKey(k) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, newLocalError(KindMissingDN, "build_entry", fmt.Sprintf("dn must be a string, got %T", v))
		}
		dn = s
	}
	if strings.TrimSpace(dn) == "" {
		return nil, newLocalError(KindMissingDN, "build_entry", ErrMissingDN.Message)
	}

	entry := NewEntry(dn)

	// Sorted for a deterministic attribute order; map iteration order is random.
	keys := make([]string, 0, len(m))
	for k := range m {
		if !isDNKey(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		if err := entry.AddAttribute(k, m[k]); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func isDNKey(key string) bool {
	return strings.EqualFold(key, DNKey)
}

func normalizeAttributeName(name string) string {
	return strings.ToLower(name)
}

// DN returns the distinguished name.
func (e *Entry) DN() string {
	return e.dn
}

// SetDN replaces the distinguished name.
func (e *Entry) SetDN(dn string) {
	e.dn = dn
}

// HasDN reports whether a non-empty DN is set.
func (e *Entry) HasDN() bool {
	return e.dn != ""
}

// Attribute returns the attribute with the given name, ignoring case.
func (e *Entry) Attribute(name string) (*EntryAttribute, bool) {
	a, ok := e.attrs[normalizeAttributeName(name)]
	return a, ok
}

// SetAttribute stores attr, replacing any attribute with the same name.
func (e *Entry) SetAttribute(attr *EntryAttribute) {
	key := normalizeAttributeName(attr.Name())
	if _, exists := e.attrs[key]; !exists {
		e.order = append(e.order, key)
	}
	e.attrs[key] = attr
}

// AddAttribute builds an attribute from value and stores it, replacing any
// attribute with the same name.
func (e *Entry) AddAttribute(name string, value any) error {
	if isDNKey(name) {
		return fmt.Errorf("%q is reserved for the distinguished name", DNKey)
	}
	attr, err := NewAttribute(name, value)
	if err != nil {
		return newLocalError(KindInvalidAttribute, "build_entry", err.Error())
	}
	e.SetAttribute(attr)
	return nil
}

// RemoveAttribute deletes the named attribute and reports whether it existed.
func (e *Entry) RemoveAttribute(name string) bool {
	key := normalizeAttributeName(name)
	if _, ok := e.attrs[key]; !ok {
		return false
	}
	delete(e.attrs, key)
	e.order = slices.DeleteFunc(e.order, func(k string) bool { return k == key })
	return true
}

// Get returns the DN for "dn", otherwise the attribute value: a string for
// single-valued attributes and a []string for multi-valued ones.
func (e *Entry) Get(key string) (any, bool) {
	if isDNKey(key) {
		return e.dn, e.HasDN()
	}
	a, ok := e.Attribute(key)
	if !ok {
		return nil, false
	}
	return a.Get(), true
}

// Put sets the DN for "dn", otherwise adds or replaces the attribute.
func (e *Entry) Put(key string, value any) error {
	if isDNKey(key) {
		dn, ok := value.(string)
		if !ok {
			return fmt.Errorf("dn must be a string, got %T", value)
		}
		e.dn = dn
		return nil
	}
	return e.AddAttribute(key, value)
}

// Keys returns "dn" when set, then attribute names in insertion order.
func (e *Entry) Keys() []string {
	keys := make([]string, 0, e.Size())
	if e.HasDN() {
		keys = append(keys, DNKey)
	}
	for _, k := range e.order {
		keys = append(keys, e.attrs[k].Name())
	}
	return keys
}

// Values returns the values matching Keys.
func (e *Entry) Values() []any {
	values := make([]any, 0, e.Size())
	if e.HasDN() {
		values = append(values, e.dn)
	}
	for _, k := range e.order {
		values = append(values, e.attrs[k].Get())
	}
	return values
}

// Attributes returns the attributes in insertion order.
func (e *Entry) Attributes() []*EntryAttribute {
	attrs := make([]*EntryAttribute, 0, len(e.order))
	for _, k := range e.order {
		attrs = append(attrs, e.attrs[k])
	}
	return attrs
}

// AttributeCount returns the number of attributes, excluding the DN.
func (e *Entry) AttributeCount() int {
	return len(e.attrs)
}

// Size counts the DN pseudo-key when present plus every attribute.
func (e *Entry) Size() int {
	size := len(e.attrs)
	if e.HasDN() {
		size++
	}
	return size
}

// IsEmpty reports whether the entry has neither DN nor attributes.
func (e *Entry) IsEmpty() bool {
	return e.Size() == 0
}

// ContainsKey reports whether Get would find key.
func (e *Entry) ContainsKey(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Equal compares entries by DN only, using RFC 4514 case-insensitive matching.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return DNEqual(e.dn, other.dn)
}

// ToMap adapts the entry to a generic map for host frameworks.
func (e *Entry) ToMap() map[string]any {
	m := make(map[string]any, e.Size())
	if e.HasDN() {
		m[DNKey] = e.dn
	}
	for _, a := range e.attrs {
		m[a.Name()] = a.Get()
	}
	return m
}

// String renders the entry in directory text format.
func (e *Entry) String() string {
	return e.ToDirectoryText()
}

// DNEqual compares two DNs per RFC 4514, falling back to a case-insensitive
// string comparison when either fails to parse.
func DNEqual(a, b string) bool {
	if a == b {
		return true
	}
	pa, errA := ldap.ParseDN(a)
	pb, errB := ldap.ParseDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return pa.EqualFold(pb)
}
