package transcribe

import (
	"fmt"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/models"
)

var (
	// ErrNotFound is returned when the audio file to transcribe does not exist.
	ErrNotFound = audio.ErrNotFound
	// ErrUnknownModel is returned for model identifiers outside the catalog.
	ErrUnknownModel = models.ErrUnknownModel
)

// ModelLoadError reports that the active model could not be made resident.
// The manager holds no model after this error; the next call retries from scratch.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("transcribe: load model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
