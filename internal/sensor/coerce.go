package sensor

import (
	"regexp"
	"strconv"
)

// ValueType is the declared type of a sensor attribute.
type ValueType string

const (
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "str"
)

var digitRunRe = regexp.MustCompile(`\d+`)

// firstNumber extracts the first maximal run of decimal digits from a
// raw attribute value. "More than 1000 days" yields "1000". A value
// with no digits yields "0".
func firstNumber(raw string) string {
	if m := digitRunRe.FindString(raw); m != "" {
		return m
	}
	return "0"
}

// Coerce converts a raw textual attribute into a typed value. It never
// fails: for numeric types the first digit run is used and absence of
// digits is defined to mean zero, which conflates "genuinely zero" with
// "no parseable number" (known lossy behavior, kept for compatibility
// with existing dashboards).
func Coerce(raw string, t ValueType) interface{} {
	switch t {
	case TypeInt:
		n, _ := strconv.ParseInt(firstNumber(raw), 10, 64)
		return n
	case TypeFloat:
		f, _ := strconv.ParseFloat(firstNumber(raw), 64)
		return f
	default:
		return raw
	}
}

// ParseValueType validates a declared type name from the template store.
func ParseValueType(name string) (ValueType, bool) {
	switch ValueType(name) {
	case TypeInt, TypeFloat, TypeString:
		return ValueType(name), true
	case "":
		return TypeString, true
	default:
		return "", false
	}
}
