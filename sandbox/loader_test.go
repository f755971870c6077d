// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoaderFind(t *testing.T) {
	t.Parallel()

	first := t.TempDir()
	second := t.TempDir()
	writeConfig(t, filepath.Join(first, "nested", "deep", "app.yaml"), "name: deep\n")
	writeConfig(t, filepath.Join(second, "app.yaml"), "name: shadowed\n")
	writeConfig(t, filepath.Join(second, "only-second.yml"), "name: second\n")
	writeConfig(t, filepath.Join(second, "ext", "both.jsonc"), "{}")
	writeConfig(t, filepath.Join(second, "ext", "both.yaml"), "name: both\n")

	loader := NewLoader([]string{first, second}, "")

	tests := []struct {
		name string
		want string
	}{
		{"app", filepath.Join(first, "nested", "deep", "app.yaml")},
		{"only-second", filepath.Join(second, "only-second.yml")},
		{"both", filepath.Join(second, "ext", "both.yaml")},
	}
	for _, test := range tests {
		got, err := loader.Find(test.name)
		if err != nil {
			t.Fatalf("Find(%q): %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("Find(%q): expected %s, got %s", test.name, test.want, got)
		}
	}
}

func TestLoaderNotFound(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	loader := NewLoader([]string{directory, missing}, "")

	for _, name := range []string{"absent", "", "../escape"} {
		_, err := loader.Load(name)
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("Load(%q): expected ErrConfigNotFound, got %v", name, err)
		}
		var notFound *ConfigNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("Load(%q): expected *ConfigNotFoundError, got %T", name, err)
		}
		if len(notFound.SearchPaths) != 2 {
			t.Errorf("expected both search paths in error, got %v", notFound.SearchPaths)
		}
	}
}

func TestLoaderReturnsCopies(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	writeConfig(t, filepath.Join(directory, "app.yaml"), "name: app\nrun: /bin/true\n")
	loader := NewLoader([]string{directory}, "")

	first, err := loader.Load("app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	first.Delete("run")

	second, err := loader.Load("app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !second.Has("run") {
		t.Error("modifying a loaded document changed the cached copy")
	}
}

func TestLoaderJSONC(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	writeConfig(t, filepath.Join(directory, "app.jsonc"), `{
	// comments are allowed
	"name": "app",
	"permissions": {"namespaces": ["share-user"],},
}`)
	loader := NewLoader([]string{directory}, "")

	document, err := loader.Load("app")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if keys := document.Keys(); len(keys) != 2 || keys[0] != "name" || keys[1] != "permissions" {
		t.Errorf("expected keys [name permissions], got %v", keys)
	}
}

func TestLoaderParseError(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	writeConfig(t, filepath.Join(directory, "list.yaml"), "- a\n- b\n")
	loader := NewLoader([]string{directory}, "")

	_, err := loader.Load("list")
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("expected ErrStructure for non-mapping root, got %v", err)
	}
}

func TestLoadInternal(t *testing.T) {
	t.Parallel()

	t.Run("built-in copy", func(t *testing.T) {
		t.Parallel()
		loader := NewLoader(nil, t.TempDir())
		document, err := loader.LoadInternal(dbusProxyConfig)
		if err != nil {
			t.Fatalf("LoadInternal: %v", err)
		}
		if !document.Has("run") {
			t.Error("built-in proxy config has no run")
		}
	})

	t.Run("override on disk", func(t *testing.T) {
		t.Parallel()
		directory := t.TempDir()
		writeConfig(t, filepath.Join(directory, dbusProxyConfig+".yaml"), "run: /custom/proxy\n")
		loader := NewLoader(nil, directory)
		document, err := loader.LoadInternal(dbusProxyConfig)
		if err != nil {
			t.Fatalf("LoadInternal: %v", err)
		}
		if run, _ := document.Get("run"); run != "/custom/proxy" {
			t.Errorf("expected overridden run, got %v", run)
		}
	})

	t.Run("search paths are ignored", func(t *testing.T) {
		t.Parallel()
		directory := t.TempDir()
		writeConfig(t, filepath.Join(directory, "helper.yaml"), "run: /bin/true\n")
		loader := NewLoader([]string{directory}, "")
		if _, err := loader.LoadInternal("helper"); !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("inherit rejected", func(t *testing.T) {
		t.Parallel()
		directory := t.TempDir()
		writeConfig(t, filepath.Join(directory, "helper.yaml"), "inherit: [base]\n")
		loader := NewLoader(nil, directory)
		if _, err := loader.LoadInternal("helper"); !errors.Is(err, ErrStructure) {
			t.Fatalf("expected ErrStructure, got %v", err)
		}
	})
}
