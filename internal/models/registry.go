package models

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Availability is the derived on-disk and in-process state of one model.
type Availability struct {
	Descriptor
	Downloaded bool `json:"downloaded"`
	Active     bool `json:"active"`
	Loaded     bool `json:"loaded"`
}

// Registry tracks the weight files in a models directory.
type Registry struct {
	dir     string
	baseURL string
	client  *http.Client

	mu sync.Mutex // guards manifest read-modify-write
}

// NewRegistry creates a Registry rooted at dir that downloads from baseURL.
func NewRegistry(dir, baseURL string) *Registry {
	return &Registry{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  http.DefaultClient,
	}
}

// Dir returns the models directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the weight file path for id, whether or not it exists.
func (r *Registry) Path(id string) (string, error) {
	d, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("models: %q: %w", id, ErrUnknownModel)
	}
	return filepath.Join(r.dir, d.FileName), nil
}

// Downloaded reports whether the exact weight file for id is present. A file
// whose size disagrees with the manifest is treated as absent.
func (r *Registry) Downloaded(id string) bool {
	d, ok := Lookup(id)
	if !ok {
		return false
	}
	info, err := os.Stat(filepath.Join(r.dir, d.FileName))
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}

	r.mu.Lock()
	m, err := readManifest(r.dir)
	r.mu.Unlock()
	if err != nil {
		slog.Warn("Ignoring unreadable manifest", "error", err)
		return true
	}
	if entry, ok := m.Models[id]; ok && entry.Size != info.Size() {
		return false
	}
	return true
}

// Availability reports every catalog entry with its downloaded, active and
// loaded flags. loadedID may be empty.
func (r *Registry) Availability(activeID, loadedID string) []Availability {
	out := make([]Availability, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, Availability{
			Descriptor: d,
			Downloaded: r.Downloaded(d.ID),
			Active:     d.ID == activeID,
			Loaded:     d.ID == loadedID,
		})
	}
	return out
}

// Delete removes the weight file for id and its manifest entry. It returns
// ErrNotDownloaded when there was nothing to remove.
func (r *Registry) Delete(id string) error {
	d, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("models: delete %q: %w", id, ErrUnknownModel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, name := range []string{d.FileName, d.FileName + ".tmp"} {
		err := os.Remove(filepath.Join(r.dir, name))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("models: delete %s: %w", name, err)
		}
	}

	m, err := readManifest(r.dir)
	if err != nil {
		return err
	}
	if _, ok := m.Models[id]; ok {
		delete(m.Models, id)
		if err := writeManifest(r.dir, m); err != nil {
			return err
		}
		removed++
	}

	if removed == 0 {
		return fmt.Errorf("models: delete %q: %w", id, ErrNotDownloaded)
	}
	slog.Info("Deleted model", "model", id, "file", d.FileName)
	return nil
}

// Verify re-hashes the weight file for id and compares it to the manifest.
func (r *Registry) Verify(id string) error {
	d, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("models: verify %q: %w", id, ErrUnknownModel)
	}

	r.mu.Lock()
	m, err := readManifest(r.dir)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	entry, ok := m.Models[id]
	if !ok {
		return fmt.Errorf("models: verify %q: no manifest entry: %w", id, ErrNotDownloaded)
	}

	sum, size, err := hashFile(filepath.Join(r.dir, d.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("models: verify %q: %w", id, ErrNotDownloaded)
	}
	if err != nil {
		return fmt.Errorf("models: verify %q: %w", id, err)
	}
	if size != entry.Size || sum != entry.Blake2b {
		return fmt.Errorf("models: verify %q: %w", id, ErrChecksumMismatch)
	}
	return nil
}
