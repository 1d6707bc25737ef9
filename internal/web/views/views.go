package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
)

//go:embed *.html
var pagesFS embed.FS

const layoutFile = "layout.html"

// Page names, one per embedded file
const (
	PageIndex    = "index"
	PageSendForm = "send_form"
	PageLogs     = "logs_view"
)

// Engine holds one template set per page, each a copy of the layout with the
// page's blocks filled in
type Engine struct {
	pages map[string]*template.Template
}

func New() (*Engine, error) {
	layout, err := template.ParseFS(pagesFS, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", layoutFile, err)
	}

	files, err := fs.Glob(pagesFS, "*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		if file == layoutFile {
			continue
		}

		page, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := page.ParseFS(pagesFS, file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(file, ".html")] = page
	}

	return &Engine{pages: pages}, nil
}

// UnknownPageError is returned by Render for a page that was not embedded
type UnknownPageError struct {
	Name string
}

func (e *UnknownPageError) Error() string {
	return fmt.Sprintf("unknown page %q", e.Name)
}

// Render writes the named page. Nothing is written for an unknown page.
func (e *Engine) Render(w io.Writer, name string, data any) error {
	page, ok := e.pages[name]
	if !ok {
		return &UnknownPageError{Name: name}
	}
	return page.Execute(w, data)
}
