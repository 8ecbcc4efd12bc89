package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/statestore/internal/config"
	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/store"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\nDATA_DIR=/tmp/x\nLOG_LEVEL=\"debug\"\n\nBROKEN\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	env, err := loadDotEnv(dir)
	if err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"DATA_DIR": "/tmp/x", "LOG_LEVEL": "debug"}, env); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	t.Run("missing", func(t *testing.T) {
		env, err := loadDotEnv(t.TempDir())
		if err != nil || len(env) != 0 {
			t.Errorf("loadDotEnv = %v, %v", env, err)
		}
	})

	t.Run("single quotes", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("A='x'\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadDotEnv(dir); err == nil {
			t.Error("expected an error")
		}
	})
}

func newTestApp(t *testing.T, dataDir string) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Spool.Enabled = false
	cfg.Defaults = map[string]any{"prefs": map[string]any{"theme": "dark"}}
	var out bytes.Buffer
	a := &app{dataDir: dataDir, cfg: &cfg, out: &out}
	t.Cleanup(a.close)
	return a, &out
}

func TestCommands(t *testing.T) {
	ctx := t.Context()
	dataDir := t.TempDir()
	a, out := newTestApp(t, dataDir)

	run := func(name string, args ...string) string {
		t.Helper()
		out.Reset()
		if err := lookup(name).run(ctx, a, args); err != nil {
			t.Fatalf("%s %v failed: %v", name, args, err)
		}
		return out.String()
	}

	run("set", "prefs", "size", "12")
	run("set", "prefs", "tabs.0", `"home"`)
	if got := run("get", "prefs", "theme"); got != "\"dark\"\n" {
		t.Errorf("get theme = %q", got)
	}
	if got := run("get", "-format", "yaml", "prefs", "."); got != "size: 12\ntabs:\n    - home\ntheme: dark\n" {
		t.Errorf("get yaml = %q", got)
	}

	t.Run("persisted", func(t *testing.T) {
		b, out := newTestApp(t, dataDir)
		if err := lookup("get").run(ctx, b, []string{"prefs", "tabs"}); err != nil {
			t.Fatalf("get failed: %v", err)
		}
		var got []any
		if err := json.Unmarshal(out.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]any{"home"}, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	run("delete", "prefs", "tabs")
	if err := lookup("get").run(ctx, a, []string{"prefs", "tabs"}); err == nil {
		t.Error("get of a deleted path must fail")
	}

	if got := run("stats"); !strings.Contains(got, "namespaces:\n    - prefs\n") {
		t.Errorf("stats = %q", got)
	}

	t.Run("rejected value", func(t *testing.T) {
		err := lookup("set").run(ctx, a, []string{"prefs", "l.1000000000", `"x"`})
		if !errors.Is(err, apierrors.InvalidValue) || !strings.Contains(err.Error(), "prefs.l.1000000000: value rejected") {
			t.Errorf("set = %v", err)
		}
		if code := apierrors.CodeOf(err); code != apierrors.ErrInvalidValue {
			t.Errorf("CodeOf = %q", code)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
		}{
			{"set", []string{"prefs", "x"}},
			{"set", []string{"prefs", "x", "{bad"}},
			{"get", []string{}},
			{"get", []string{"-format", "xml", "prefs"}},
			{"delete", []string{"a", "b", "c"}},
			{"watch", []string{"-if", "value >", "prefs"}},
			{"stats", []string{"x"}},
			{"set", []string{"prefs", "tabs.99999999999999", "1"}},
		}
		for _, tt := range tests {
			if err := lookup(tt.name).run(ctx, a, tt.args); err == nil {
				t.Errorf("%s %q: expected an error", tt.name, tt.args)
			}
		}
	})
}

func TestSchema(t *testing.T) {
	a, out := newTestApp(t, t.TempDir())
	if err := cmdSchema(t.Context(), a, nil); err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	var schema struct {
		Properties map[string]struct {
			Type string   `json:"type"`
			Enum []string `json:"enum"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("invalid schema: %v", err)
	}
	if got := schema.Properties["id"].Type; got != "string" {
		t.Errorf("id type = %q", got)
	}
	if diff := cmp.Diff([]string{"set", "delete"}, schema.Properties["kind"].Enum); diff != "" {
		t.Errorf("kind enum mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter(t *testing.T) {
	f, err := compileFilter("present && value.count > 2")
	if err != nil {
		t.Fatalf("compileFilter failed: %v", err)
	}
	tests := []struct {
		s    store.Snapshot
		want bool
	}{
		{store.Snapshot{Value: map[string]any{"count": 3.0}, Present: true}, true},
		{store.Snapshot{Value: map[string]any{"count": 1.0}, Present: true}, false},
		{store.Snapshot{}, false},
	}
	for i, tt := range tests {
		got, err := f.match(tt.s)
		if err != nil {
			t.Fatalf("%d: match failed: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("%d: match = %v, want %v", i, got, tt.want)
		}
	}
	if ok, err := (filter{}).match(store.Snapshot{}); !ok || err != nil {
		t.Errorf("empty filter = %v, %v", ok, err)
	}
}

func TestPatchLine(t *testing.T) {
	first := store.Snapshot{Value: map[string]any{"a": 1.0, "b": 2.0}, Present: true}
	line, err := patchLine(nil, first)
	if err != nil {
		t.Fatalf("patchLine failed: %v", err)
	}
	if string(line) != `{"value":{"a":1,"b":2}}` {
		t.Errorf("first line = %s", line)
	}

	next := store.Snapshot{Value: map[string]any{"a": 1.0, "b": 3.0}, Present: true}
	line, err = patchLine(&first, next)
	if err != nil {
		t.Fatalf("patchLine failed: %v", err)
	}
	var patch map[string]any
	if err := json.Unmarshal(line, &patch); err != nil {
		t.Fatalf("invalid patch %s: %v", line, err)
	}
	if diff := cmp.Diff(map[string]any{"value": map[string]any{"b": 3.0}}, patch); diff != "" {
		t.Errorf("patch mismatch (-want +got):\n%s", diff)
	}

	if line, err := patchLine(&next, next); err != nil || line != nil {
		t.Errorf("unchanged = %s, %v", line, err)
	}

	line, err = patchLine(&next, store.Snapshot{})
	if err != nil {
		t.Fatalf("patchLine failed: %v", err)
	}
	if string(line) != `{"value":null}` {
		t.Errorf("removal = %s", line)
	}
}
