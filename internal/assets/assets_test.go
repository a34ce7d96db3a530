package assets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestGetClientJS(t *testing.T) {
	data, err := GetClientJS()
	if err != nil {
		t.Fatalf("GetClientJS failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("GetClientJS returned empty data")
	}
	for _, want := range []string{"/api/submit-insurance-quote", "/chat/ws", "data-fallback"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("site.js should reference %q", want)
		}
	}
}

func TestGetClientCSS(t *testing.T) {
	data, err := GetClientCSS()
	if err != nil {
		t.Fatalf("GetClientCSS failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("GetClientCSS returned empty data")
	}
}

func TestClientFS(t *testing.T) {
	fsys := ClientFS()
	if fsys == nil {
		t.Fatal("ClientFS returned nil")
	}

	for _, name := range []string{"site.js", "site.css"} {
		file, err := fsys.Open(name)
		if err != nil {
			t.Fatalf("Failed to open %s from ClientFS: %v", name, err)
		}
		file.Close()
	}

	if _, err := fsys.Open("../templates/layout.tmpl"); err == nil {
		t.Error("ClientFS should not expose templates")
	}
}

func TestTemplatesFS(t *testing.T) {
	matches, err := fs.Glob(TemplatesFS(), "*.tmpl")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no layout templates embedded")
	}

	data, err := fs.ReadFile(TemplatesFS(), "layout.tmpl")
	if err != nil {
		t.Fatalf("read layout.tmpl: %v", err)
	}
	for _, want := range []string{`{{define "layout"}}`, "Type your message...", "menu-entries"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("layout.tmpl should contain %q", want)
		}
	}
}
