package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads externally authored prompt templates from a directory.
// Templates use {variable} placeholders.
type Loader struct {
	dir string
}

// NewLoader builds a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads the named template (stored as <name>.st) from disk. Templates
// are read on every call so they can be edited without a restart.
func (l *Loader) Load(name string) (Template, error) {
	path := filepath.Join(l.dir, name+".st")
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read prompt template %q: %w", name, err)
	}
	return Template{text: string(data)}, nil
}

// Template is a prompt with {variable} placeholders.
type Template struct {
	text string
}

// NewTemplate wraps raw template text. Used by tests.
func NewTemplate(text string) Template {
	return Template{text: text}
}

// Render substitutes every {key} placeholder with its value. Unknown
// placeholders are left untouched.
func (t Template) Render(vars map[string]string) string {
	out := t.text
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
