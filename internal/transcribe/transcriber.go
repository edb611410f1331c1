// Package transcribe runs speech-to-text over meeting recordings.
//
// A Manager owns the single resident recognition model and its lifecycle; an
// Engine conditions audio, runs the model and turns the output into an Outcome.
// Inference backends implement Loader and Model (see internal/whisper).
package transcribe

import (
	"github.com/chaz8081/meetscribe/internal/device"
)

// TaskTranscribe asks the model to transcribe in the spoken language.
const TaskTranscribe = "transcribe"

// Options controls one inference call.
type Options struct {
	Language string
	Task     string
	// ReducedPrecision enables half-precision arithmetic; only set on accelerators.
	ReducedPrecision bool
	Verbose          bool
}

// Segment is one time-aligned span of recognised text. Offsets are in seconds.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of one inference call.
type Result struct {
	Segments []Segment
	// Language is the language the model decoded in, detected when the
	// caller asked for "auto".
	Language string
}

// Model is a loaded recognition model.
type Model interface {
	// Process transcribes mono 16kHz float32 audio samples into segments.
	Process(samples []float32, opts Options) (Result, error)
	// Close releases backend resources.
	Close() error
}

// Loader reads model weights onto a device.
type Loader interface {
	Load(path string, dev device.Device) (Model, error)
}
