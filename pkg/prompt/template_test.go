package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	tmpl := NewTemplate("Hello {name}, you asked: {userQuery}")
	got := tmpl.Render(map[string]string{"name": "Ada", "userQuery": "what's new?"})
	want := "Hello Ada, you asked: what's new?"
	if got != want {
		t.Fatalf("rendered = %q, want %q", got, want)
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	tmpl := NewTemplate("{known} and {unknown}")
	got := tmpl.Render(map[string]string{"known": "x"})
	if got != "x and {unknown}" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestLoaderReadsTemplateFromDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greeting.st"), []byte("Hi {name}"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	loader := NewLoader(dir)
	tmpl, err := loader.Load("greeting")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tmpl.Render(map[string]string{"name": "Ada"}); got != "Hi Ada" {
		t.Fatalf("rendered = %q", got)
	}
}

func TestLoaderMissingTemplate(t *testing.T) {
	loader := NewLoader(t.TempDir())
	if _, err := loader.Load("nope"); err == nil {
		t.Fatalf("expected error for missing template")
	}
}

func TestLoaderPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.st")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader := NewLoader(dir)
	if tmpl, _ := loader.Load("prompt"); tmpl.Render(nil) != "v1" {
		t.Fatalf("expected v1")
	}
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	tmpl, err := loader.Load("prompt")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if tmpl.Render(nil) != "v2" {
		t.Fatalf("expected template edits to apply without reload")
	}
}
