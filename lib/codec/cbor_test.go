// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type record struct {
	PID    int      `cbor:"pid"`
	Socket string   `cbor:"socket"`
	Rules  []string `cbor:"rules,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	original := record{PID: 4242, Socket: "/run/user/1000/xdg-dbus-proxy/app.sock", Rules: []string{"--talk=org.a"}}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.PID != original.PID || decoded.Socket != original.Socket || len(decoded.Rules) != 1 {
		t.Errorf("expected %+v, got %+v", original, decoded)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("map encoding depends on insertion order: %x vs %x", first, second)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"pid": 7, "socket": "s", "future": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.PID != 7 {
		t.Errorf("expected pid 7, got %d", decoded.PID)
	}
}
