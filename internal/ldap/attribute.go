package ldap

import (
	"fmt"
	"slices"
)

// EntryAttribute is a named attribute whose shape, single or multi-valued,
// is fixed when it is constructed.
type EntryAttribute struct {
	name   string
	multi  bool
	values []string
}

// NewSingleValueAttribute creates a single-valued attribute.
func NewSingleValueAttribute(name, value string) *EntryAttribute {
	return &EntryAttribute{name: name, values: []string{value}}
}

// NewMultiValueAttribute creates a multi-valued attribute. Value order is preserved.
func NewMultiValueAttribute(name string, values ...string) *EntryAttribute {
	return &EntryAttribute{name: name, multi: true, values: slices.Clone(values)}
}

// NewAttribute infers the shape from the Go type of value: slices produce
// multi-valued attributes, anything else a single-valued one.
func NewAttribute(name string, value any) (*EntryAttribute, error) {
	if name == "" {
		return nil, fmt.Errorf("attribute name cannot be empty")
	}

	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("attribute %s has no value", name)
	case string:
		return NewSingleValueAttribute(name, v), nil
	case []byte:
		return NewSingleValueAttribute(name, string(v)), nil
	case []string:
		return NewMultiValueAttribute(name, v...), nil
	case [][]byte:
		values := make([]string, len(v))
		for i, b := range v {
			values[i] = string(b)
		}
		return NewMultiValueAttribute(name, values...), nil
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			s, err := stringValue(item)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", name, err)
			}
			values = append(values, s)
		}
		return NewMultiValueAttribute(name, values...), nil
	case *EntryAttribute:
		return v.withName(name), nil
	default:
		s, err := stringValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		return NewSingleValueAttribute(name, s), nil
	}
}

func stringValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("nil value")
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Name returns the attribute name as supplied.
func (a *EntryAttribute) Name() string {
	return a.name
}

// IsMultiValued reports the attribute shape.
func (a *EntryAttribute) IsMultiValued() bool {
	return a.multi
}

// Value returns the single value, or the first value of a multi-valued attribute.
func (a *EntryAttribute) Value() string {
	if len(a.values) == 0 {
		return ""
	}
	return a.values[0]
}

// Values returns a copy of all values in order.
func (a *EntryAttribute) Values() []string {
	return slices.Clone(a.values)
}

// Len returns the number of values.
func (a *EntryAttribute) Len() int {
	return len(a.values)
}

// Get returns a string for single-valued attributes and []string otherwise.
func (a *EntryAttribute) Get() any {
	if a.multi {
		return a.Values()
	}
	return a.Value()
}

// Equal compares name (case-insensitively), shape and ordered values.
func (a *EntryAttribute) Equal(other *EntryAttribute) bool {
	if a == nil || other == nil {
		return a == other
	}
	return normalizeAttributeName(a.name) == normalizeAttributeName(other.name) &&
		a.multi == other.multi &&
		slices.Equal(a.values, other.values)
}

func (a *EntryAttribute) withName(name string) *EntryAttribute {
	return &EntryAttribute{name: name, multi: a.multi, values: slices.Clone(a.values)}
}

func (a *EntryAttribute) String() string {
	if a.multi {
		return fmt.Sprintf("%s=%v", a.name, a.values)
	}
	return fmt.Sprintf("%s=%s", a.name, a.Value())
}
