package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTextSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("vless://a\nvless://b\n"))
	}))
	defer ts.Close()

	got, err := Text(context.Background(), ts.URL, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "vless://a\nvless://b\n" {
		t.Fatalf("got=%q", got)
	}
}

func TestTextNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := Text(context.Background(), ts.URL, Options{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "FETCH_FAILED" {
		t.Fatalf("code=%q", fe.AppError.Code)
	}
}

func TestTextTooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer ts.Close()

	_, err := Text(context.Background(), ts.URL, Options{MaxBytes: 16})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "TOO_LARGE" {
		t.Fatalf("code=%q", fe.AppError.Code)
	}
}

func TestTextRejectsNonHTTP(t *testing.T) {
	_, err := Text(context.Background(), "ftp://example.com/list.txt", Options{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.AppError.Code != "INVALID_ARGUMENT" {
		t.Fatalf("code=%q", fe.AppError.Code)
	}
}

func TestSourcesFailedFetchOmitted(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sources.txt")
	// Nothing listens on port 1; the https fetch fails and is omitted while
	// the inline candidate line survives. The missing file is skipped.
	content := "vless://inline@host:443\n\nhttps://127.0.0.1:1/list.txt\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := Sources(context.Background(), []string{file, "missing.txt"}, Options{})
	if got != "vless://inline@host:443" {
		t.Fatalf("got=%q", got)
	}
}

func TestSourcesDirFallback(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sources")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "lists.txt"), []byte("vless://from-subdir"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := Sources(context.Background(), []string{"lists.txt"}, Options{SourcesDir: sub})
	if got != "vless://from-subdir" {
		t.Fatalf("got=%q", got)
	}
}
