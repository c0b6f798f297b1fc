// Package payload holds the ordered JSON object used to build provider request
// bodies from typed defaults and free-form caller overrides.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by Parse when the input is valid JSON but not an object.
var ErrNotObject = errors.New("payload: body must be a JSON object")

// Document is a JSON object that remembers key insertion order.
// The zero value is an empty document ready to use.
type Document struct {
	keys   []string
	values map[string]json.RawMessage
}

func New() *Document {
	return &Document{values: make(map[string]json.RawMessage)}
}

// Parse decodes a JSON object preserving key order. Empty input and null
// yield an empty document.
func Parse(raw []byte) (*Document, error) {
	doc := New()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return doc, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("payload: decode key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("payload: unexpected token %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("payload: decode %q: %w", key, err)
		}
		doc.SetRaw(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	return doc, nil
}

// Set marshals value and stores it under key. An existing key keeps its position.
func (d *Document) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("payload: marshal %q: %w", key, err)
	}
	d.SetRaw(key, raw)
	return nil
}

func (d *Document) SetRaw(key string, raw json.RawMessage) {
	if d.values == nil {
		d.values = make(map[string]json.RawMessage)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

func (d *Document) Get(key string) (json.RawMessage, bool) {
	v, ok := d.values[key]
	return v, ok
}

// String returns the value under key when it is a JSON string.
func (d *Document) String(key string) (string, bool) {
	raw, ok := d.values[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Document) Len() int { return len(d.keys) }

// Merge copies every override field onto d, replacing existing values in place.
// Keys listed in protected are ignored; callers reassert them afterwards.
func (d *Document) Merge(override *Document, protected ...string) {
	if override == nil {
		return
	}
	skip := make(map[string]struct{}, len(protected))
	for _, k := range protected {
		skip[k] = struct{}{}
	}
	for _, k := range override.keys {
		if _, ok := skip[k]; ok {
			continue
		}
		d.SetRaw(k, override.values[k])
	}
}

// MarshalJSON encodes the document with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(d.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
