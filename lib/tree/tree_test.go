// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func mustDecode(t *testing.T, document string) *Map {
	t.Helper()
	m, err := DecodeYAML([]byte(document))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	return m
}

func TestDecodeYAMLPreservesOrder(t *testing.T) {
	m := mustDecode(t, `
run: /bin/app
name: App
permissions:
  namespaces: [share-network]
  filesystem:
    ro-bind: [/usr, /lib]
    bind: [/tmp]
`)
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"run", "name", "permissions"}) {
		t.Errorf("unexpected top-level order %v", got)
	}

	permissions, _ := m.Get("permissions")
	filesystem, _ := permissions.(*Map).Get("filesystem")
	if got := filesystem.(*Map).Keys(); !reflect.DeepEqual(got, []string{"ro-bind", "bind"}) {
		t.Errorf("unexpected filesystem key order %v", got)
	}
}

func TestDecodeYAMLRejectsNonMappingRoot(t *testing.T) {
	_, err := DecodeYAML([]byte("- a\n- b\n"))
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected structure error, got %v", err)
	}
}

func TestDecodeYAMLRejectsDuplicateKeys(t *testing.T) {
	_, err := DecodeYAML([]byte("name: a\nname: b\n"))
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected structure error for duplicate key, got %v", err)
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	m, err := DecodeYAML(nil)
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty map, got %d keys", m.Len())
	}
}

func TestDecodeJSONC(t *testing.T) {
	m, err := DecodeJSONC([]byte(`{
		// the program
		"run": "/bin/app",
		"permissions": {"namespaces": ["share-ipc",],},
	}`))
	if err != nil {
		t.Fatalf("DecodeJSONC: %v", err)
	}
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"run", "permissions"}) {
		t.Errorf("unexpected key order %v", got)
	}
	run, _ := m.Get("run")
	if run != "/bin/app" {
		t.Errorf("expected run=/bin/app, got %v", run)
	}
}

func TestMergeSequencesConcatenate(t *testing.T) {
	base := mustDecode(t, "list: [a, b, a]\n")
	incoming := mustDecode(t, "list: [b, c]\n")

	merged, err := Merge(base, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	list, _ := merged.Get("list")
	if !reflect.DeepEqual(list, []any{"a", "b", "a", "b", "c"}) {
		t.Errorf("expected concatenation without de-duplication, got %v", list)
	}
}

func TestMergeMappingsRecurse(t *testing.T) {
	base := mustDecode(t, "permissions:\n  filesystem:\n    ro-bind: [/usr]\n  dbus:\n    talk: [org.a]\n")
	incoming := mustDecode(t, "permissions:\n  filesystem:\n    ro-bind: [/etc]\n    bind: [/tmp]\n")

	merged, err := Merge(base, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	encoded, err := EncodeYAML(merged)
	if err != nil {
		t.Fatalf("EncodeYAML: %v", err)
	}
	want := `permissions:
  filesystem:
    ro-bind:
      - /usr
      - /etc
    bind:
      - /tmp
  dbus:
    talk:
      - org.a
`
	if string(encoded) != want {
		t.Errorf("unexpected merge result:\n%s\nwant:\n%s", encoded, want)
	}
}

func TestMergeScalarsReplace(t *testing.T) {
	merged, err := Merge(mustDecode(t, "name: Parent\nlevel: 1\n"), mustDecode(t, "name: Child\n"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	name, _ := merged.Get("name")
	level, _ := merged.Get("level")
	if name != "Child" || level != 1 {
		t.Errorf("expected name=Child level=1, got name=%v level=%v", name, level)
	}
}

func TestMergeTypeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		incoming string
		path     string
	}{
		{"mapping into scalar", "a: x\n", "a: {b: c}\n", "a"},
		{"scalar into mapping", "a: {b: c}\n", "a: x\n", "a"},
		{"sequence into mapping", "a: {b: c}\n", "a: [x]\n", "a"},
		{"scalar into sequence", "a: {b: [x]}\n", "a: {b: y}\n", "a.b"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Merge(mustDecode(t, test.base), mustDecode(t, test.incoming))
			var mergeError *MergeTypeError
			if !errors.As(err, &mergeError) {
				t.Fatalf("expected MergeTypeError, got %v", err)
			}
			if mergeError.Path != test.path {
				t.Errorf("expected path %q, got %q", test.path, mergeError.Path)
			}
			if !errors.Is(err, ErrMergeType) {
				t.Error("MergeTypeError should match ErrMergeType")
			}
		})
	}
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	base := mustDecode(t, "fs:\n  ro-bind: [/usr]\n")
	incoming := mustDecode(t, "fs:\n  ro-bind: [/etc]\n")

	merged, err := Merge(base, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	fs, _ := merged.Get("fs")
	fs.(*Map).Set("ro-bind", []any{"/changed"})

	baseFS, _ := base.Get("fs")
	list, _ := baseFS.(*Map).Get("ro-bind")
	if !reflect.DeepEqual(list, []any{"/usr"}) {
		t.Errorf("merge mutated its base argument: %v", list)
	}
}

func TestNullCountsAsAbsent(t *testing.T) {
	merged, err := Merge(mustDecode(t, "environment:\n"), mustDecode(t, "environment: {copyenv: [HOME]}\n"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if environment, _ := merged.Get("environment"); KindOf(environment) != KindMapping {
		t.Errorf("expected mapping to replace null, got %v", environment)
	}
}

func TestStringList(t *testing.T) {
	list, ok := StringList([]any{"a", 2, true})
	if !ok || !reflect.DeepEqual(list, []string{"a", "2", "true"}) {
		t.Errorf("unexpected list %v (ok=%v)", list, ok)
	}
	if list, ok := StringList("solo"); !ok || len(list) != 1 {
		t.Errorf("expected scalar promoted to list, got %v", list)
	}
	if _, ok := StringList([]any{New()}); ok {
		t.Error("expected nested mapping to be rejected")
	}
}

func TestEncodeYAMLQuotesAmbiguousScalars(t *testing.T) {
	m := New()
	m.Set("value", "true")
	encoded, err := EncodeYAML(m)
	if err != nil {
		t.Fatalf("EncodeYAML: %v", err)
	}
	roundTrip := mustDecode(t, string(encoded))
	if value, _ := roundTrip.Get("value"); value != "true" {
		t.Errorf("string %q came back as %#v (encoded %s)", "true", value, strings.TrimSpace(string(encoded)))
	}
}

func TestDecodeYAMLKeepsDatesAsWritten(t *testing.T) {
	m := mustDecode(t, "ro-bind: [2024-01-01, 2001-12-14t21:59:43.10-05:00]\nwhen: 2024-01-01\n")

	value, _ := m.Get("ro-bind")
	list, ok := StringList(value)
	want := []string{"2024-01-01", "2001-12-14t21:59:43.10-05:00"}
	if !ok || !reflect.DeepEqual(list, want) {
		t.Errorf("expected %q, got %q (ok=%v)", want, list, ok)
	}
	if when, _ := m.Get("when"); when != "2024-01-01" {
		t.Errorf("expected %q, got %#v", "2024-01-01", when)
	}
}
