// Package models manages the whisper.cpp weight files available to the
// transcription engine: the compiled-in catalog, on-disk presence, downloads,
// deletion, checksum tracking and the persisted active-model preference.
package models

import "errors"

// ErrUnknownModel is returned for identifiers that are not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrNotDownloaded is returned when an operation needs weights that are not on disk.
var ErrNotDownloaded = errors.New("model not downloaded")

// Descriptor describes one recognition model variant.
type Descriptor struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	SizeMB      int    `json:"size_mb"`
	Speed       string `json:"speed"`
	Quality     string `json:"quality"`
	Description string `json:"description"`
}

// catalog is ordered from fastest to best; the first entry is the default.
var catalog = []Descriptor{
	{
		ID:          "turbo",
		FileName:    "ggml-large-v3-turbo-q5_0.bin",
		SizeMB:      547,
		Speed:       "fastest",
		Quality:     "good",
		Description: "Fastest transcription, good quality",
	},
	{
		ID:          "medium",
		FileName:    "ggml-medium.bin",
		SizeMB:      1533,
		Speed:       "fast",
		Quality:     "better",
		Description: "Balanced speed and quality",
	},
	{
		ID:          "large-v3",
		FileName:    "ggml-large-v3.bin",
		SizeMB:      3095,
		Speed:       "slower",
		Quality:     "best",
		Description: "Best quality, slower processing",
	},
}

// Catalog returns the model variants in display order.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the descriptor for id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// DefaultID is the model used when no preference has been recorded.
func DefaultID() string {
	return catalog[0].ID
}
