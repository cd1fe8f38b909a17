package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestURLHausQueryUnionsTagsAcrossURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls":[{"tags":["exe","zbot"]},{"tags":["zbot","phishing"]}]}`))
	}))
	defer srv.Close()

	u := NewURLHaus(srv.Client(), "key", unlimited())
	u.baseURL = srv.URL

	got := u.Query(context.Background(), "bad.example")
	want := "exe, phishing, zbot"
	if got != want {
		t.Errorf("Query() = %q, want %q", got, want)
	}
}

func TestURLHausQueryEmptyWithoutAPIKey(t *testing.T) {
	u := NewURLHaus(nil, "", unlimited())
	if got := u.Query(context.Background(), "bad.example"); got != "" {
		t.Errorf("Query() = %q, want empty string", got)
	}
}

func TestURLHausQueryNoURLsReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls":[]}`))
	}))
	defer srv.Close()

	u := NewURLHaus(srv.Client(), "key", unlimited())
	u.baseURL = srv.URL

	if got := u.Query(context.Background(), "clean.example"); got != "" {
		t.Errorf("Query() = %q, want empty string", got)
	}
}
