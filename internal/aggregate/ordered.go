package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ordered is a string-keyed map that remembers insertion order and encodes
// as a JSON object with keys in that order. The zero value is ready to use.
type Ordered[V any] struct {
	keys   []string
	values map[string]V
}

// Set stores v under key. A new key is appended; an existing key keeps its
// position.
func (o *Ordered[V]) Set(key string, v V) {
	if o.values == nil {
		o.values = make(map[string]V)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Ordered[V]) Get(key string) (V, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Ordered[V]) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Ordered[V]) Len() int {
	return len(o.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (o *Ordered[V]) Range(fn func(key string, v V) bool) {
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

func (o *Ordered[V]) update(key string, fn func(V) V) {
	v, _ := o.Get(key)
	o.Set(key, fn(v))
}

// MarshalJSON encodes the map as an object in insertion order.
func (o Ordered[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the input.
func (o *Ordered[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("ordered map: expected object")
	}

	*o = Ordered[V]{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("ordered map: expected string key")
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		o.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
