// Package static embeds the HTML templates served by the web UI.
package static

import (
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

// Templates parses every embedded page. Template names are the file names.
func Templates() *template.Template {
	return template.Must(template.ParseFS(files, "*.html"))
}
