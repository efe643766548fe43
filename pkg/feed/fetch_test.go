package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchConditional(t *testing.T) {
	const etag = `"v1"`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("Link", `<https://hub.example/>; rel="hub"`)
		if _, err := w.Write([]byte(sampleRSS)); err != nil {
			t.Errorf("write failed: %v", err)
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(5 * time.Second)

	result, err := fetcher.Fetch(context.Background(), server.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("initial fetch failed: %v", err)
	}
	if result.NotModified {
		t.Fatal("initial fetch should not be a 304")
	}
	if result.ETag != etag {
		t.Errorf("etag = %q, want %q", result.ETag, etag)
	}
	if result.Hub != "https://hub.example/" {
		t.Errorf("hub from Link header = %q", result.Hub)
	}
	if len(result.Body) == 0 {
		t.Error("expected a body")
	}

	result, err = fetcher.Fetch(context.Background(), server.URL, FetchOptions{ETag: etag})
	if err != nil {
		t.Fatalf("conditional fetch failed: %v", err)
	}
	if !result.NotModified {
		t.Error("expected a 304 with the stored etag")
	}
	if result.ETag != etag {
		t.Errorf("304 should echo the validator back, got %q", result.ETag)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	_, err := NewFetcher(5 * time.Second).Fetch(context.Background(), server.URL, FetchOptions{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusGone {
		t.Errorf("status = %d, want %d", httpErr.Status, http.StatusGone)
	}
}

func TestFetchCharsetDecoding(t *testing.T) {
	// "café" in ISO-8859-1.
	latin1 := []byte{'c', 'a', 'f', 0xe9}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		if _, err := w.Write(latin1); err != nil {
			t.Errorf("write failed: %v", err)
		}
	}))
	defer server.Close()

	result, err := NewFetcher(5 * time.Second).Fetch(context.Background(), server.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(result.Body) != "café" {
		t.Errorf("body not converted to UTF-8: %q", result.Body)
	}
}
