package httpx_test

import (
	"bytes"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/bluescreen10/sugary/httpx"
)

func TestRenderer(t *testing.T) {
	r := httpx.NewRenderer(fstest.MapFS{
		"page.html": {Data: []byte("{{ .test }}")},
	}, ".html")
	w := httptest.NewRecorder()

	if err := r.HTML(w, http.StatusOK, "page", httpx.Vals{"test": "hello world"}); err != nil {
		t.Fatal(err)
	}

	if body := w.Body.String(); body != "hello world" {
		t.Fatalf("expected body 'hello world' got '%s'", body)
	}

	if ct := w.Result().Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("expected content type 'text/html; charset=utf-8' got '%s'", ct)
	}
}

func TestRendererWithLayout(t *testing.T) {
	r := httpx.NewRenderer(fstest.MapFS{
		"pages/page.html": {Data: []byte("<p>{{ .test }}</p>")},
		"layout.html":     {Data: []byte("<html>{{ .Content }}|{{ .test }}</html>")},
	}, ".html")
	w := httptest.NewRecorder()

	if err := r.HTML(w, http.StatusUnprocessableEntity, "pages/page", httpx.Vals{"test": "hello"}, "layout"); err != nil {
		t.Fatal(err)
	}

	expected := "<html><p>hello</p>|hello</html>"
	if body := w.Body.String(); body != expected {
		t.Fatalf("expected body '%s' got '%s'", expected, body)
	}

	if w.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected status code '422' got '%d'", w.Result().StatusCode)
	}
}

func TestRendererFuncsAndReload(t *testing.T) {
	fsys := fstest.MapFS{
		"page.html": {Data: []byte("{{ upper .test }}")},
	}
	r := httpx.NewRenderer(fsys, ".html")
	r.Funcs(template.FuncMap{"upper": strings.ToUpper})

	var buf bytes.Buffer
	if err := r.Render(&buf, "page", httpx.Vals{"test": "abc"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "ABC" {
		t.Fatalf("expected 'ABC' got '%s'", buf.String())
	}

	fsys["page.html"] = &fstest.MapFile{Data: []byte("changed")}
	r.Reload()

	buf.Reset()
	if err := r.Render(&buf, "page", nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "changed" {
		t.Fatalf("expected 'changed' got '%s'", buf.String())
	}
}

func TestRendererErrorWritesNothing(t *testing.T) {
	r := httpx.NewRenderer(fstest.MapFS{}, ".html")
	w := httptest.NewRecorder()

	if err := r.HTML(w, http.StatusOK, "missing", nil); err == nil {
		t.Fatal("expected error for missing template")
	}

	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body got '%s'", w.Body.String())
	}
}
