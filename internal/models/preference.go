package models

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnvModel names the environment variable that overrides the stored preference.
const EnvModel = "WHISPER_MODEL"

const markerFile = "active_model.txt"

// Preference resolves and persists the active model identifier.
//
// Resolution order: EnvModel (if it names a cataloged model), then the marker
// file in the models directory (same rule), then DefaultID.
type Preference struct {
	dir    string
	getenv func(string) string
}

// NewPreference creates a Preference stored in dir.
func NewPreference(dir string) *Preference {
	return &Preference{dir: dir, getenv: os.Getenv}
}

// Active returns the resolved active model identifier.
func (p *Preference) Active() string {
	if id := strings.TrimSpace(p.getenv(EnvModel)); id != "" {
		if _, ok := Lookup(id); ok {
			return id
		}
		slog.Warn("Ignoring unknown model in environment", "var", EnvModel, "model", id)
	}

	data, err := os.ReadFile(filepath.Join(p.dir, markerFile))
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, ok := Lookup(id); ok {
			return id
		}
		slog.Warn("Ignoring unknown model in marker file", "file", markerFile, "model", id)
	} else if !os.IsNotExist(err) {
		slog.Warn("Could not read active model marker", "error", err)
	}

	return DefaultID()
}

// SetActive persists id as the active model.
func (p *Preference) SetActive(id string) error {
	if _, ok := Lookup(id); !ok {
		return fmt.Errorf("models: set active %q: %w", id, ErrUnknownModel)
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("models: create models dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(p.dir, markerFile), []byte(id+"\n")); err != nil {
		return err
	}
	slog.Info("Active model set", "model", id)
	return nil
}
