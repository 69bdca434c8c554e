package httpx

import (
	"bytes"
	"html/template"
	"io"
	"io/fs"
	"maps"
	"net/http"
	"path"
	"strings"
	"sync"
)

// Renderer renders html/template files loaded lazily from an fs.FS.
// Templates are named by their path relative to the root with the
// extension removed, so "pages/login.html" is "pages/login".
//
// Usage:
//
//	//go:embed templates
//	var templatesFS embed.FS
//
//	sub, _ := fs.Sub(templatesFS, "templates")
//	renderer := httpx.NewRenderer(sub, ".html")
//	renderer.Funcs(template.FuncMap{"upper": strings.ToUpper})
//
//	// "login" is rendered, then wrapped by "layout" as {{ .Content }}
//	renderer.HTML(w, http.StatusOK, "login", httpx.Vals{"Title": "Sign in"}, "layout")
type Renderer struct {
	dir       fs.FS
	ext       string
	mu        sync.RWMutex
	templates *template.Template
	funcs     template.FuncMap
}

// NewRenderer creates a Renderer for the files of dir ending in ext
// (".html", ".tmpl").
func NewRenderer(dir fs.FS, ext string) *Renderer {
	return &Renderer{
		dir:   dir,
		ext:   ext,
		funcs: template.FuncMap{},
	}
}

// Vals is a convenience type for passing data to templates.
type Vals map[string]any

var buffers = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// Funcs registers template functions. Templates loaded before the call are
// dropped so the functions are visible on the next render.
func (v *Renderer) Funcs(funcs template.FuncMap) {
	v.mu.Lock()
	defer v.mu.Unlock()

	maps.Copy(v.funcs, funcs)
	v.templates = nil
}

// HTML renders the named template, wrapped in layout when given, and
// writes it with status. Nothing is written when rendering fails, so the
// caller can still send an error response.
func (v *Renderer) HTML(w http.ResponseWriter, status int, name string, vals Vals, layout ...string) error {
	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer buffers.Put(buf)

	if err := v.Render(buf, name, vals, layout...); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// Render executes the named template into w. With a layout, the output of
// name is passed to the layout as .Content next to every value of vals.
func (v *Renderer) Render(w io.Writer, name string, vals Vals, layout ...string) error {
	t, err := v.load()
	if err != nil {
		return err
	}

	if len(layout) == 0 {
		return t.ExecuteTemplate(w, name, vals)
	}

	var content bytes.Buffer
	if err := t.ExecuteTemplate(&content, name, vals); err != nil {
		return err
	}

	wrapped := make(Vals, len(vals)+1)
	maps.Copy(wrapped, vals)
	wrapped["Content"] = template.HTML(content.String())

	return t.ExecuteTemplate(w, layout[0], wrapped)
}

// Reload drops the loaded templates. The next render reads them again,
// which lets template edits show up without a restart.
func (v *Renderer) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.templates = nil
}

func (v *Renderer) load() (*template.Template, error) {
	v.mu.RLock()
	t := v.templates
	v.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.templates != nil {
		return v.templates, nil
	}

	t = template.New("").Funcs(v.funcs)

	err := fs.WalkDir(v.dir, ".", func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if e.IsDir() || path.Ext(p) != v.ext {
			return nil
		}

		buf, err := fs.ReadFile(v.dir, p)
		if err != nil {
			return err
		}

		_, err = t.New(strings.TrimSuffix(p, v.ext)).Parse(string(buf))
		return err
	})
	if err != nil {
		return nil, err
	}

	v.templates = t
	return t, nil
}
