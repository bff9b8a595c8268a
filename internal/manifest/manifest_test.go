package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoad_perSetWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static/greetings/r2_manifest.json":
			w.Write([]byte(`{"files":{"audio/greetings/3_czesc.mp3":"https://cdn.example.com/g/3_czesc.mp3"},"assetsBase":"https://cdn.example.com"}`))
		case "/static/r2_manifest.json":
			t.Error("global manifest probed although per-set probe succeeded")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := &Loader{StaticBase: srv.URL + "/static"}
	m := l.Load(context.Background(), "greetings")
	if m == nil {
		t.Fatal("Load returned nil")
	}
	if got := m.Files["audio/greetings/3_czesc.mp3"]; got != "https://cdn.example.com/g/3_czesc.mp3" {
		t.Errorf("Files mapping = %q", got)
	}
	if m.Base != "https://cdn.example.com" {
		t.Errorf("Base = %q", m.Base)
	}
}

func TestLoad_fallsBackToGlobal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/static/r2_manifest.json" {
			w.Write([]byte(`{"files":{},"cdn":"https://cdn.example.com"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := &Loader{StaticBase: srv.URL + "/static"}
	m := l.Load(context.Background(), "greetings")
	if m == nil {
		t.Fatal("Load returned nil, want global manifest")
	}
	if m.Base != "https://cdn.example.com" {
		t.Errorf("Base = %q", m.Base)
	}
}

func TestLoad_malformedPerSetFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/static/greetings/r2_manifest.json":
			w.Write([]byte(`{not json`))
		case "/static/r2_manifest.json":
			w.Write([]byte(`{"base":"https://cdn.example.com"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := &Loader{StaticBase: srv.URL + "/static"}
	m := l.Load(context.Background(), "greetings")
	if m == nil {
		t.Fatal("Load returned nil, want fallback to global")
	}
	if m.Base != "https://cdn.example.com" {
		t.Errorf("Base = %q", m.Base)
	}
	if m.Files == nil {
		t.Error("Files should never be nil on a loaded manifest")
	}
}

func TestLoad_missingIsNil(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l := &Loader{StaticBase: srv.URL + "/static"}
	if m := l.Load(context.Background(), "greetings"); m != nil {
		t.Errorf("Load = %+v, want nil when no manifest exists", m)
	}
}

func TestLoad_unreachableIsNil(t *testing.T) {
	l := &Loader{StaticBase: "http://127.0.0.1:1/static"}
	if m := l.Load(context.Background(), "greetings"); m != nil {
		t.Errorf("Load = %+v, want nil on network failure", m)
	}
}
