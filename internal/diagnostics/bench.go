// Package diagnostics measures transcription throughput and accuracy on the
// running host.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/transcribe"
)

const (
	toneFrequency = 440
	toneFile      = "benchmark_test.wav"

	// MinDuration and MaxDuration bound benchmark length in seconds.
	MinDuration = 10
	MaxDuration = 120
	// DefaultDuration is used when the caller does not choose a length.
	DefaultDuration = 30
)

// ErrModelLoad is the report error when the active model cannot be loaded.
const ErrModelLoad = "model failed to load"

// StatsSource reports device utilisation.
type StatsSource interface {
	Stats(ctx context.Context, d device.Device) device.Stats
}

// Report is the outcome of one benchmark. When Error is set the other
// fields are empty.
type Report struct {
	TestDuration    float64       `json:"test_duration_seconds,omitempty"`
	ProcessingTime  float64       `json:"processing_time_seconds,omitempty"`
	SpeedMultiplier *float64      `json:"speed_multiplier,omitempty"`
	Device          string        `json:"device,omitempty"`
	Model           string        `json:"model,omitempty"`
	DeviceStats     *device.Stats `json:"device_stats,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// AccuracyReport compares a transcription against a reference transcript.
type AccuracyReport struct {
	Model      string     `json:"model"`
	Hypothesis string     `json:"hypothesis"`
	WER        WordErrors `json:"wer"`
}

// Bench runs synthetic round trips through the engine.
type Bench struct {
	engine *transcribe.Engine
	stats  StatsSource
	dir    string

	mu sync.Mutex // the tone file path is fixed
}

// NewBench creates a Bench that writes its tone file into dir.
func NewBench(engine *transcribe.Engine, stats StatsSource, dir string) *Bench {
	return &Bench{engine: engine, stats: stats, dir: dir}
}

// Run synthesizes a tone of durationSeconds, transcribes it and reports
// throughput. Failures are reported in Report.Error.
func (b *Bench) Run(ctx context.Context, durationSeconds int) Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	mgr := b.engine.Manager()
	if err := mgr.EnsureLoaded(); err != nil {
		slog.Error("Benchmark aborted", "error", err)
		return Report{Error: ErrModelLoad}
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return Report{Error: fmt.Sprintf("create benchmark dir: %v", err)}
	}
	path := filepath.Join(b.dir, toneFile)
	tone := audio.SineWave(toneFrequency, time.Duration(durationSeconds)*time.Second)
	if err := audio.WriteFile(path, tone); err != nil {
		audio.RemoveTemp(path)
		return Report{Error: err.Error()}
	}
	defer audio.RemoveTemp(path)

	slog.Info("Running benchmark", "duration_s", durationSeconds, "model", mgr.Active())

	out, err := b.engine.TranscribeFile(ctx, path, "en")
	if err != nil {
		return Report{Error: err.Error()}
	}

	switch o := out.(type) {
	case *transcribe.Failure:
		return Report{Error: o.Error}
	case *transcribe.Transcript:
		dev := mgr.Device()
		stats := b.stats.Stats(ctx, dev)
		r := Report{
			TestDuration:   float64(durationSeconds),
			ProcessingTime: o.ProcessingTime,
			Device:         string(dev.Kind),
			Model:          o.Model,
			DeviceStats:    &stats,
		}
		if o.ProcessingTime > 0 {
			x := float64(durationSeconds) / o.ProcessingTime
			r.SpeedMultiplier = &x
		}
		slog.Info("Benchmark complete", "processing_s", r.ProcessingTime, "model", r.Model)
		return r
	default:
		return Report{Error: fmt.Sprintf("unexpected outcome %T", out)}
	}
}

// Accuracy transcribes path and scores it against reference.
func (b *Bench) Accuracy(ctx context.Context, path, reference, language string) (AccuracyReport, error) {
	out, err := b.engine.TranscribeFile(ctx, path, language)
	if err != nil {
		return AccuracyReport{}, err
	}

	switch o := out.(type) {
	case *transcribe.Transcript:
		return AccuracyReport{
			Model:      o.Model,
			Hypothesis: o.Text,
			WER:        Score(reference, o.Text),
		}, nil
	case *transcribe.Failure:
		return AccuracyReport{}, fmt.Errorf("diagnostics: transcription failed: %s", o.Error)
	default:
		return AccuracyReport{}, fmt.Errorf("diagnostics: unexpected outcome %T", out)
	}
}

// ClampDuration bounds a requested benchmark length; 0 selects the default.
func ClampDuration(seconds int) int {
	switch {
	case seconds == 0:
		return DefaultDuration
	case seconds < MinDuration:
		return MinDuration
	case seconds > MaxDuration:
		return MaxDuration
	}
	return seconds
}

// ReadReference loads a reference transcript, collapsing whitespace.
func ReadReference(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("diagnostics: read reference: %w", err)
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}
