package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/meetscribe/internal/audio"
)

// Engine transcribes audio files with the manager's active model.
type Engine struct {
	manager    *Manager
	normalizer *audio.Normalizer
	now        func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock used to time inference.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(manager *Manager, normalizer *audio.Normalizer, opts ...EngineOption) *Engine {
	e := &Engine{manager: manager, normalizer: normalizer, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the lifecycle manager the engine draws models from.
func (e *Engine) Manager() *Manager {
	return e.manager
}

// TranscribeFile transcribes one audio file.
//
// A *ModelLoadError or ErrNotFound is returned as an error before any audio is
// processed. Every later problem (conversion, decoding, inference) is reported
// as a *Failure outcome. Any converted scratch file is removed before return.
func (e *Engine) TranscribeFile(ctx context.Context, path, language string) (Outcome, error) {
	lease, err := e.manager.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	artifact, err := e.normalizer.Prepare(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return e.failure(lease.ID(), path, err), nil
	}
	defer artifact.Cleanup()

	start := e.now()

	samples, err := audio.DecodeFile(artifact.Path)
	if err != nil {
		return e.failure(lease.ID(), path, err), nil
	}

	result, err := lease.Model().Process(samples, Options{
		Language:         language,
		Task:             TaskTranscribe,
		ReducedPrecision: e.manager.Device().Accelerator(),
		Verbose:          false,
	})
	if err != nil {
		return e.failure(lease.ID(), path, err), nil
	}

	elapsed := e.now().Sub(start)

	segments := make([]Segment, 0, len(result.Segments))
	texts := make([]string, 0, len(result.Segments))
	for _, s := range result.Segments {
		s.Text = strings.TrimSpace(s.Text)
		segments = append(segments, s)
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
	}

	var audioDuration float64
	if len(segments) > 0 {
		audioDuration = segments[len(segments)-1].End
	}

	if result.Language != "" {
		language = result.Language
	}

	t := &Transcript{
		Success:        true,
		Text:           strings.Join(texts, " "),
		Language:       language,
		Segments:       segments,
		ProcessingTime: math.Round(elapsed.Seconds()),
		AudioDuration:  audioDuration,
		Model:          lease.ID(),
		Device:         string(e.manager.Device().Kind),
		FileSizeMB:     artifact.SizeMB,
	}

	attrs := []any{
		"file", filepath.Base(path),
		"model", t.Model,
		"segments", len(segments),
		"processing_s", t.ProcessingTime,
	}
	if rtf, ok := t.RealtimeFactor(); ok {
		attrs = append(attrs, "realtime_x", math.Round(rtf*10)/10)
	}
	slog.Info("Transcription complete", attrs...)
	return t, nil
}

// TranscribeSegments transcribes each window of path independently, in
// order. Failing windows are skipped; the aggregate is still a success. With
// no windows it behaves like TranscribeFile.
func (e *Engine) TranscribeSegments(ctx context.Context, path string, windows []Window, language string) (Outcome, error) {
	if len(windows) == 0 {
		return e.TranscribeFile(ctx, path, language)
	}

	if err := e.manager.EnsureLoaded(); err != nil {
		return nil, err
	}
	modelID := e.manager.Active()

	artifact, err := e.normalizer.Prepare(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return e.failure(modelID, path, err), nil
	}
	defer artifact.Cleanup()

	samples, err := audio.DecodeFile(artifact.Path)
	if err != nil {
		return e.failure(modelID, path, err), nil
	}

	results := make([]WindowResult, 0, len(windows))
	texts := make([]string, 0, len(windows))
	var total float64

	for i, w := range windows {
		n := i + 1
		t, ok := e.transcribeWindow(ctx, path, samples, n, w, language)
		if !ok {
			continue
		}
		modelID = t.Model
		results = append(results, WindowResult{
			Number:         n,
			Start:          w.Start,
			End:            w.End,
			Duration:       w.End - w.Start,
			Text:           t.Text,
			ProcessingTime: t.ProcessingTime,
		})
		texts = append(texts, t.Text)
		total += t.ProcessingTime
	}

	slog.Info("Segmented transcription complete",
		"file", filepath.Base(path),
		"windows", len(windows),
		"succeeded", len(results))

	return &SegmentedTranscript{
		Success:             true,
		Text:                strings.Join(texts, "\n\n"),
		Segments:            results,
		TotalProcessingTime: total,
		Model:               modelID,
		Device:              string(e.manager.Device().Kind),
	}, nil
}

// transcribeWindow writes window n to a scratch file, transcribes it and
// removes the scratch file.
func (e *Engine) transcribeWindow(ctx context.Context, source string, samples []float32, n int, w Window, language string) (*Transcript, bool) {
	segPath := audio.SegmentName(source, n)
	defer audio.RemoveTemp(segPath)

	if err := audio.WriteFile(segPath, audio.Slice(samples, w.Start, w.End)); err != nil {
		slog.Warn("Skipping window", "window", n, "error", err)
		return nil, false
	}

	out, err := e.TranscribeFile(ctx, segPath, language)
	if err != nil {
		slog.Warn("Skipping window", "window", n, "error", err)
		return nil, false
	}
	switch o := out.(type) {
	case *Transcript:
		return o, true
	case *Failure:
		slog.Warn("Skipping window", "window", n, "error", o.Error)
	}
	return nil, false
}

func (e *Engine) failure(modelID, path string, err error) *Failure {
	slog.Error("Transcription failed", "file", filepath.Base(path), "model", modelID, "error", err)
	return &Failure{
		Success: false,
		Error:   err.Error(),
		Model:   modelID,
		Device:  string(e.manager.Device().Kind),
	}
}
