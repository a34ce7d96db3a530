// Package assets embeds the site stylesheet, the browser script, and the page
// layout template.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

//go:embed templates/*.tmpl
var templateFS embed.FS

// ClientFS returns the embedded client files, served under /assets/.
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// TemplatesFS returns the embedded layout templates.
func TemplatesFS() fs.FS {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the browser script
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/site.js")
}

// GetClientCSS returns the site stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/site.css")
}
