// Package templates renders the single translator page. Markup and assets are
// embedded in the binary.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"sync"
)

//go:embed index.html static
var files embed.FS

const Title = "Kurdish ↔ English Translator (NLLB + LoRA)"

// Option is one entry of the direction selector.
type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Page is everything index.html needs. The handler fills it from the session.
type Page struct {
	Title      string
	Theme      string
	Status     string
	Directions []Option
	Input      string
	Output     string
	InputRTL   bool
	OutputRTL  bool
	Warning    string
	Error      string
}

var (
	once    sync.Once
	index   *template.Template
	initErr error
)

func InitTemplates() error {
	once.Do(func() {
		index, initErr = template.ParseFS(files, "index.html")
		if initErr != nil {
			initErr = fmt.Errorf("parse index template: %w", initErr)
		}
	})
	return initErr
}

func RenderIndex(w io.Writer, page Page) error {
	if err := InitTemplates(); err != nil {
		return err
	}
	if page.Title == "" {
		page.Title = Title
	}
	return index.Execute(w, page)
}

// Static serves the embedded stylesheet and script.
func Static() http.Handler {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
