// Package whisper implements the transcription model contract on top of the
// whisper.cpp Go bindings.
package whisper

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/transcribe"
)

// Loader loads ggml weight files.
type Loader struct {
	threads uint
}

// NewLoader creates a Loader that runs inference on all logical CPUs.
func NewLoader() *Loader {
	return &Loader{threads: uint(runtime.NumCPU())}
}

// Load reads the weights at path. GPU offload is decided by how whisper.cpp
// was built (CUDA or Metal); dev is recorded for logging.
func (l *Loader) Load(path string, dev device.Device) (transcribe.Model, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	slog.Debug("whisper model opened", "path", path, "device", dev.Kind, "multilingual", model.IsMultilingual())
	return &Model{model: model, threads: l.threads}, nil
}

// Model wraps a whisper.cpp model for speech-to-text.
type Model struct {
	model   whisper.Model
	threads uint
}

// Close releases the whisper model resources.
func (m *Model) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// Process transcribes mono 16kHz float32 audio samples to segments. The
// result carries the language whisper.cpp decoded in.
func (m *Model) Process(samples []float32, opts transcribe.Options) (transcribe.Result, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if opts.Language != "" {
		if err := ctx.SetLanguage(opts.Language); err != nil {
			return transcribe.Result{}, fmt.Errorf("whisper: set language %q: %w", opts.Language, err)
		}
	}
	ctx.SetTranslate(opts.Task != "" && opts.Task != transcribe.TaskTranscribe)
	if m.threads > 0 {
		ctx.SetThreads(m.threads)
	}

	var onSegment whisper.SegmentCallback
	if opts.Verbose {
		onSegment = func(s whisper.Segment) {
			slog.Debug("whisper segment", "start", s.Start, "end", s.End, "text", s.Text)
		}
	}

	if err := ctx.Process(samples, nil, onSegment, nil); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: process: %w", err)
	}

	var segments []transcribe.Segment
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return transcribe.Result{}, fmt.Errorf("whisper: next segment: %w", err)
		}
		segments = append(segments, transcribe.Segment{
			Start:      seg.Start.Seconds(),
			End:        seg.End.Seconds(),
			Text:       seg.Text,
			Confidence: meanTokenProbability(seg.Tokens),
		})
	}

	language := ctx.DetectedLanguage()
	if language == "" {
		language = opts.Language
	}
	return transcribe.Result{Segments: segments, Language: language}, nil
}

// meanTokenProbability averages token probabilities; 0 when there are none.
func meanTokenProbability(tokens []whisper.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.P)
	}
	return sum / float64(len(tokens))
}
