package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/device"
	"github.com/chaz8081/meetscribe/internal/models"
)

var cpuDevice = device.Device{Kind: device.KindCPU, Name: "Test CPU"}

// fakeModel is a scripted Model.
type fakeModel struct {
	file       string
	process    func(samples []float32, opts Options) ([]Segment, error)
	detected   string
	closeDelay time.Duration

	mu       sync.Mutex
	closed   bool
	lastOpts Options
	calls    int
}

func (m *fakeModel) Process(samples []float32, opts Options) (Result, error) {
	m.mu.Lock()
	m.lastOpts = opts
	m.calls++
	m.mu.Unlock()
	res := Result{Language: opts.Language}
	if m.detected != "" {
		res.Language = m.detected
	}
	if m.process == nil {
		res.Segments = []Segment{{Start: 0, End: 1, Text: "ok", Confidence: 0.9}}
		return res, nil
	}
	segs, err := m.process(samples, opts)
	if err != nil {
		return Result{}, err
	}
	res.Segments = segs
	return res, nil
}

func (m *fakeModel) Close() error {
	if m.closeDelay > 0 {
		time.Sleep(m.closeDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeLoader hands out fakeModels and checks that no two are ever open at once.
type fakeLoader struct {
	err        error
	delay      time.Duration
	closeDelay time.Duration
	detected   string
	process    func(samples []float32, opts Options) ([]Segment, error)

	mu         sync.Mutex
	models     []*fakeModel
	overlapped bool
}

func (l *fakeLoader) Load(path string, _ device.Device) (Model, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	for _, m := range l.models {
		if !m.isClosed() {
			l.overlapped = true
		}
	}
	m := &fakeModel{file: filepath.Base(path), process: l.process, closeDelay: l.closeDelay, detected: l.detected}
	l.models = append(l.models, m)
	return m, nil
}

func (l *fakeLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.models)
}

func (l *fakeLoader) model(i int) *fakeModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.models[i]
}

func (l *fakeLoader) residentOverlap() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overlapped
}

// placeWeights writes fake weight files for ids into dir.
func placeWeights(t *testing.T, dir string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		d, ok := models.Lookup(id)
		if !ok {
			t.Fatalf("unknown model %q", id)
		}
		if err := os.WriteFile(filepath.Join(dir, d.FileName), []byte("weights"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// newTestManager builds a Manager over a temp models dir with every catalog
// model downloaded.
func newTestManager(t *testing.T, loader Loader, dev device.Device) (*Manager, string) {
	t.Helper()
	t.Setenv(models.EnvModel, "")
	dir := t.TempDir()
	placeWeights(t, dir, "turbo", "medium", "large-v3")
	reg := models.NewRegistry(dir, "http://example.invalid")
	return NewManager(reg, models.NewPreference(dir), loader, dev), dir
}

// fakeRunner stands in for ffmpeg and writes a short tone to the output path.
type fakeRunner struct {
	mu      sync.Mutex
	outputs []string
	fail    bool
}

func (r *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	out := args[len(args)-1]
	r.mu.Lock()
	r.outputs = append(r.outputs, out)
	r.mu.Unlock()
	if r.fail {
		return []byte("moov atom not found"), errors.New("exit status 1")
	}
	return nil, audio.WriteFile(out, audio.SineWave(440, time.Second))
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestEngine(t *testing.T, loader Loader, dev device.Device, runner *fakeRunner, clock *stepClock) (*Engine, string) {
	t.Helper()
	mgr, _ := newTestManager(t, loader, dev)
	norm := audio.NewNormalizerWithRunner("ffmpeg", runner)
	return NewEngine(mgr, norm, WithClock(clock.Now)), t.TempDir()
}

func writeTone(t *testing.T, path string, d time.Duration) {
	t.Helper()
	if err := audio.WriteFile(path, audio.SineWave(440, d)); err != nil {
		t.Fatal(err)
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
