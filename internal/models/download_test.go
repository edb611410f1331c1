package models

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (c *hitCounter) get(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

// weightServer serves fake weight files and counts requests per path.
func weightServer(t *testing.T, body []byte) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.mu.Lock()
		hits.hits[r.URL.Path]++
		hits.mu.Unlock()
		if !strings.HasSuffix(r.URL.Path, ".bin") {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func TestDownload(t *testing.T) {
	body := bytes.Repeat([]byte("ggml"), 1024)
	srv, hits := weightServer(t, body)
	dir := t.TempDir()

	reg := NewRegistry(dir, srv.URL+"/")
	if err := reg.Download(context.Background(), "medium"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "ggml-medium.bin"))
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("downloaded content differs from served content")
	}
	if n := hits.get("/ggml-medium.bin"); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "ggml-medium.bin.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after download")
	}

	m, err := readManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := m.Models["medium"]
	if !ok {
		t.Fatal("manifest has no entry for medium")
	}
	if entry.File != "ggml-medium.bin" || entry.Size != int64(len(body)) || len(entry.Blake2b) != 64 {
		t.Errorf("manifest entry = %+v", entry)
	}

	if err := reg.Verify("medium"); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if !reg.Downloaded("medium") {
		t.Error("Downloaded(medium) = false after download")
	}
}

func TestDownloadSkipsExisting(t *testing.T) {
	srv, hits := weightServer(t, []byte("weights"))
	reg := NewRegistry(t.TempDir(), srv.URL)

	for i := 0; i < 2; i++ {
		if err := reg.Download(context.Background(), "turbo"); err != nil {
			t.Fatalf("Download() #%d error = %v", i+1, err)
		}
	}
	if n := hits.get("/ggml-large-v3-turbo-q5_0.bin"); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	reg := NewRegistry(t.TempDir(), "http://127.0.0.1:0")
	err := reg.Download(context.Background(), "tiny")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("Download() error = %v, want ErrUnknownModel", err)
	}
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	reg := NewRegistry(dir, srv.URL)
	if err := reg.Download(context.Background(), "large-v3"); err == nil {
		t.Fatal("Download() should fail on HTTP 500")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("models dir not empty after failed download: %d entries", len(entries))
	}
	if reg.Downloaded("large-v3") {
		t.Error("Downloaded(large-v3) = true after failed download")
	}
}

func TestDownloadCanceled(t *testing.T) {
	srv, _ := weightServer(t, []byte("weights"))
	reg := NewRegistry(t.TempDir(), srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := reg.Download(ctx, "turbo"); err == nil {
		t.Fatal("Download() should fail with a canceled context")
	}
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	pw := &progressWriter{
		writer: &buf,
		total:  100,
		label:  "test",
	}

	data := make([]byte, 50)
	n, err := pw.Write(data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 50 {
		t.Errorf("Write() n = %d, want 50", n)
	}
	if pw.written != 50 {
		t.Errorf("written = %d, want 50", pw.written)
	}
	if pw.lastTick != 5 {
		t.Errorf("lastTick = %d, want 5", pw.lastTick)
	}
	if buf.Len() != 50 {
		t.Errorf("underlying writer got %d bytes, want 50", buf.Len())
	}
}
