package protocol

import (
	"reflect"
	"strings"
)

// JVM-style type descriptors identify parameter types on the wire. The
// mapping from Go values is fixed: integers travel as long, floats as double
// and anything without a scalar shape as Object.
const (
	descBoolean = "Z"
	descInt     = "I"
	descLong    = "J"
	descDouble  = "D"
	descString  = "Ljava/lang/String;"
	descObject  = "Ljava/lang/Object;"
	descMap     = "Ljava/util/Map;"
)

// TypeDescOf returns the descriptor for one Go type.
func TypeDescOf(t reflect.Type) string {
	if t == nil {
		return descObject
	}
	switch t.Kind() {
	case reflect.Bool:
		return descBoolean
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return descInt
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint64:
		return descLong
	case reflect.Float32, reflect.Float64:
		return descDouble
	case reflect.String:
		return descString
	case reflect.Map:
		return descMap
	case reflect.Slice, reflect.Array:
		return "[" + TypeDescOf(t.Elem())
	case reflect.Ptr:
		return TypeDescOf(t.Elem())
	default:
		return descObject
	}
}

// TypesOf returns descriptors for a value list, one per argument.
func TypesOf(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = TypeDescOf(reflect.TypeOf(a))
	}
	return out
}

// JoinDesc concatenates descriptors into the wire form.
func JoinDesc(types []string) string { return strings.Join(types, "") }

// SplitDesc parses a concatenated descriptor string back into one descriptor
// per parameter. Malformed trailing bytes yield a final truncated entry.
func SplitDesc(desc string) []string {
	var out []string
	for i := 0; i < len(desc); {
		start := i
		for i < len(desc) && desc[i] == '[' {
			i++
		}
		if i < len(desc) && desc[i] == 'L' {
			for i < len(desc) && desc[i] != ';' {
				i++
			}
			if i < len(desc) {
				i++ // consume ';'
			}
		} else if i < len(desc) {
			i++
		}
		out = append(out, desc[start:i])
	}
	return out
}
