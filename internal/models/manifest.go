package models

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

const manifestFile = "manifest.json"

// ErrChecksumMismatch is returned by Verify when the weights on disk differ
// from what was downloaded.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ManifestEntry records the exact file a download produced.
type ManifestEntry struct {
	File         string    `json:"file"`
	Size         int64     `json:"size"`
	Blake2b      string    `json:"blake2b"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type manifest struct {
	Models map[string]ManifestEntry `json:"models"`
}

func readManifest(dir string) (*manifest, error) {
	m := &manifest{Models: map[string]ManifestEntry{}}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("models: read manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("models: parse manifest: %w", err)
	}
	if m.Models == nil {
		m.Models = map[string]ManifestEntry{}
	}
	return m, nil
}

func writeManifest(dir string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("models: encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, manifestFile), data)
}

// hashFile returns the hex blake2b-256 digest and size of path.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("models: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("models: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
