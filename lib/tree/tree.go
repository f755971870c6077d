// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"fmt"
	"strings"
)

// Map is an ordered mapping from string keys to values. Values are
// scalars (string, bool, int, float64 or nil), sequences ([]any) or
// nested *Map. Keys are unique and keep their first insertion
// position.
type Map struct {
	keys   []string
	values map[string]any
}

// New returns an empty Map.
func New() *Map {
	return &Map{values: make(map[string]any)}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in order. The slice is a copy.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m.values[key]
	return value, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. An existing key keeps its position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	for i, existing := range m.keys {
		if existing == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Range calls fn for each entry in key order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, key := range m.keys {
		if !fn(key, m.values[key]) {
			return
		}
	}
}

// Clone returns a deep copy. Nested maps and sequences are never
// shared between the original and the copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	clone := &Map{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string]any, len(m.values)),
	}
	for key, value := range m.values {
		clone.values[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case *Map:
		return typed.Clone()
	case []any:
		items := make([]any, len(typed))
		for i, item := range typed {
			items[i] = cloneValue(item)
		}
		return items
	default:
		return value
	}
}

// Kind names the structural type of a value.
type Kind string

const (
	KindScalar   Kind = "scalar"
	KindSequence Kind = "sequence"
	KindMapping  Kind = "mapping"
)

// KindOf returns the structural type of value.
func KindOf(value any) Kind {
	switch value.(type) {
	case *Map:
		return KindMapping
	case []any:
		return KindSequence
	default:
		return KindScalar
	}
}

// Scalar renders a scalar as a string. Booleans and numbers are
// formatted the way they appear in YAML. It returns false for nil,
// sequences and mappings.
func Scalar(value any) (string, bool) {
	switch typed := value.(type) {
	case nil, *Map, []any:
		return "", false
	case string:
		return typed, true
	default:
		return fmt.Sprint(typed), true
	}
}

// StringList interprets value as a sequence of scalars. A single
// scalar is accepted as a one-element list.
func StringList(value any) ([]string, bool) {
	if text, ok := Scalar(value); ok {
		return []string{text}, true
	}
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		text, ok := Scalar(item)
		if !ok {
			return nil, false
		}
		list = append(list, text)
	}
	return list, true
}

// JoinPath renders a key path for diagnostics, e.g.
// "permissions.filesystem.ro-bind".
func JoinPath(path ...string) string {
	return strings.Join(path, ".")
}
