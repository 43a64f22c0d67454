package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/Iron-Ham/macroexpand/internal/errors"
)

func TestPackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "simple",
			input: "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n",
			want:  "demo",
		},
		{
			name:  "name after other keys",
			input: "[package]\nedition = \"2021\"\nname = \"late-name\"\n",
			want:  "late-name",
		},
		{
			name:    "workspace root without package",
			input:   "[workspace]\nmembers = [\"a\"]\n",
			wantErr: apperrors.ErrNoPackageName,
		},
		{
			name:  "invalid toml",
			input: "[package\nname = ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PackageName([]byte(tt.input))
			if tt.want != "" {
				if err != nil {
					t.Fatalf("PackageName() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("PackageName() = %q, want %q", got, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatal("PackageName() should fail")
			}
			var de *apperrors.DiscoveryError
			if !errors.As(err, &de) {
				t.Errorf("error should be a DiscoveryError, got %T", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantErr)
			}
		})
	}
}

const sampleManifest = `[package]
name = "demo"
version = "0.1.0"
build = "build.rs"

[lib]
path = "src/lib.rs"

[[bin]]
name = "tool"
path = "src/bin/tool.rs"

[dependencies]
serde = "1"
local = { path = "../local" }
shared = { path = "/opt/shared" }
home = { path = "~/crates/home" }

[dev-dependencies.helpers]
path = "tests/helpers"

[target.'cfg(unix)'.dependencies]
unix-only = { path = "platform/unix" }

[workspace.dependencies]
common = { path = "common" }

[patch.crates-io]
serde = { path = "vendor/serde" }
`

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not valid TOML: %v\n%s", err, data)
	}
	return doc
}

func dig(t *testing.T, doc map[string]any, keys ...string) any {
	t.Helper()
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("%v: %q is not a table", keys, k)
		}
		cur = m[k]
	}
	return cur
}

func TestRewriteLocalPaths(t *testing.T) {
	out, err := RewriteLocalPaths([]byte(sampleManifest), "/work/demo")
	if err != nil {
		t.Fatalf("RewriteLocalPaths() error = %v", err)
	}
	doc := decode(t, out)

	tests := []struct {
		keys []string
		want string
	}{
		{[]string{"dependencies", "local", "path"}, "/work/local"},
		{[]string{"dependencies", "shared", "path"}, "/opt/shared"},
		{[]string{"dependencies", "home", "path"}, "~/crates/home"},
		{[]string{"dev-dependencies", "helpers", "path"}, "/work/demo/tests/helpers"},
		{[]string{"target", "cfg(unix)", "dependencies", "unix-only", "path"}, "/work/demo/platform/unix"},
		{[]string{"workspace", "dependencies", "common", "path"}, "/work/demo/common"},
		{[]string{"patch", "crates-io", "serde", "path"}, "/work/demo/vendor/serde"},
		{[]string{"lib", "path"}, "/work/demo/src/lib.rs"},
		{[]string{"package", "build"}, "/work/demo/build.rs"},
		{[]string{"package", "name"}, "demo"},
		{[]string{"dependencies", "serde"}, "1"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.keys, "."), func(t *testing.T) {
			if got := dig(t, doc, tt.keys...); got != tt.want {
				t.Errorf("got %v, want %q", got, tt.want)
			}
		})
	}

	bins, ok := doc["bin"].([]any)
	if !ok || len(bins) != 1 {
		t.Fatalf("bin = %#v", doc["bin"])
	}
	if got := bins[0].(map[string]any)["path"]; got != "/work/demo/src/bin/tool.rs" {
		t.Errorf("bin path = %v", got)
	}
}

func TestRewriteLocalPaths_Idempotent(t *testing.T) {
	once, err := RewriteLocalPaths([]byte(sampleManifest), "/work/demo")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := RewriteLocalPaths(once, "/work/demo")
	if err != nil {
		t.Fatal(err)
	}
	if string(once) != string(twice) {
		t.Errorf("second rewrite changed the manifest:\n--- once\n%s\n--- twice\n%s", once, twice)
	}
}

func TestRewriteLocalPaths_NothingToRewrite(t *testing.T) {
	input := "# keep me\n[package]\nname = \"plain\"\n\n[dependencies]\nserde = \"1\"\n"
	out, err := RewriteLocalPaths([]byte(input), "/work")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != input {
		t.Errorf("manifest without local paths should be returned verbatim, got:\n%s", out)
	}
}

func TestRewriteLocalPaths_Invalid(t *testing.T) {
	if _, err := RewriteLocalPaths([]byte("[dependencies\n"), "/work"); err == nil {
		t.Error("invalid TOML should fail")
	}
}

func TestIsRelative(t *testing.T) {
	tests := map[string]bool{
		"../x":   true,
		"x":      true,
		"./x":    true,
		"/abs":   false,
		"~/home": false,
		"":       false,
	}
	for in, want := range tests {
		if got := IsRelative(in); got != want {
			t.Errorf("IsRelative(%q) = %v, want %v", in, got, want)
		}
	}
}
