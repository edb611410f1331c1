package models

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Download fetches the weights for id into the models directory. It makes a
// single attempt; a failed download leaves no partial file behind.
func (r *Registry) Download(ctx context.Context, id string) error {
	d, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("models: download %q: %w", id, ErrUnknownModel)
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("models: creating models dir: %w", err)
	}

	destPath := filepath.Join(r.dir, d.FileName)

	// Check if already downloaded
	if r.Downloaded(id) {
		slog.Info("Model already downloaded", "model", id, "path", destPath)
		return nil
	}

	url := r.baseURL + "/" + d.FileName
	slog.Info("Downloading model", "model", id, "url", url, "destination", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("models: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("models: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download %s failed: HTTP %d", id, resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("models: creating temp file: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("models: init hash: %w", err)
	}

	pw := &progressWriter{
		writer: io.MultiWriter(f, h),
		total:  resp.ContentLength,
		label:  d.FileName,
	}

	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing model file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: moving model file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := readManifest(r.dir)
	if err != nil {
		return err
	}
	m.Models[id] = ManifestEntry{
		File:         d.FileName,
		Size:         written,
		Blake2b:      hex.EncodeToString(h.Sum(nil)),
		DownloadedAt: time.Now().UTC(),
	}
	if err := writeManifest(r.dir, m); err != nil {
		return err
	}

	slog.Info("Model downloaded", "model", id, "size_mb", fmt.Sprintf("%.1f", float64(written)/(1024*1024)))
	return nil
}

// progressWriter wraps an io.Writer and logs download progress every 10%.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	label    string
	lastTick int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)

	if pw.total > 0 {
		tick := pw.written * 10 / pw.total
		if tick > pw.lastTick {
			pw.lastTick = tick
			slog.Info("Download progress",
				"file", pw.label,
				"mb", fmt.Sprintf("%.1f/%.1f", float64(pw.written)/(1024*1024), float64(pw.total)/(1024*1024)),
				"percent", tick*10)
		}
	} else {
		// Unknown length: log every 64 MB.
		tick := pw.written >> 26
		if tick > pw.lastTick {
			pw.lastTick = tick
			slog.Info("Download progress", "file", pw.label,
				"mb", fmt.Sprintf("%.1f", float64(pw.written)/(1024*1024)))
		}
	}
	return n, err
}
