// Package resolve extracts canonical fields from heterogeneous tool records.
//
// Each canonical field is a Field holding an ordered list of alias paths.
// Resolution walks the list and the first path yielding a present,
// non-empty value wins, so adding an alias is a data change.
package resolve

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is one raw finding as decoded from tool JSON.
type Record map[string]any

// Path is a sequence of keys into a Record. A numeric segment indexes an array.
type Path []string

// String renders the path in dotted form.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Lookup walks the path and returns the value found, if any.
// Missing intermediate keys and type mismatches yield false.
func (p Path) Lookup(rec Record) (any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	var cur any = map[string]any(rec)
	for _, seg := range p {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Record:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Field is a canonical field and its alias paths in priority order.
type Field struct {
	Name    string
	Aliases []Path
}

// String resolves the field to a scalar string. Objects and arrays do not
// satisfy a scalar alias, so the next alias is tried instead.
func (f Field) String(rec Record) (string, bool) {
	for _, alias := range f.Aliases {
		v, ok := alias.Lookup(rec)
		if !ok {
			continue
		}
		if s, ok := scalar(v); ok {
			return s, true
		}
	}
	return "", false
}

// Strings resolves a list-valued field. The first alias holding either an
// array of scalars or a comma separated string wins.
func (f Field) Strings(rec Record) []string {
	for _, alias := range f.Aliases {
		v, ok := alias.Lookup(rec)
		if !ok {
			continue
		}
		if out := stringList(v); len(out) > 0 {
			return out
		}
	}
	return nil
}

func scalar(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return "", false
	}
	return s, s != ""
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := scalar(item); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
