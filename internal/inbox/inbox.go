// Package inbox watches a directory for new recordings, queues them for
// transcription and writes the result next to each recording.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chaz8081/meetscribe/internal/audio"
	"github.com/chaz8081/meetscribe/internal/jobs"
)

const sidecarSuffix = ".transcript.json"

// DefaultSettle is how long a recording must go without writes before it is queued.
const DefaultSettle = 2 * time.Second

// Submitter queues a transcription request.
type Submitter interface {
	Submit(req jobs.Request) (jobs.Job, error)
}

// Watcher feeds recordings dropped into a directory to the job queue.
type Watcher struct {
	dir      string
	language string
	queue    Submitter
	settle   time.Duration
	ready    chan struct{}

	mu        sync.Mutex
	timers    map[string]*time.Timer
	submitted map[string]bool
	pending   map[string]string // job id -> recording
}

// New creates a Watcher for dir. Recordings are transcribed in language.
func New(dir, language string, queue Submitter) *Watcher {
	return &Watcher{
		dir:       dir,
		language:  language,
		queue:     queue,
		settle:    DefaultSettle,
		ready:     make(chan struct{}),
		timers:    make(map[string]*time.Timer),
		submitted: make(map[string]bool),
		pending:   make(map[string]string),
	}
}

// SidecarPath returns where the transcript for recording is written.
func SidecarPath(recording string) string {
	return strings.TrimSuffix(recording, filepath.Ext(recording)) + sidecarSuffix
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches the directory until ctx is cancelled. Recordings already present
// without a transcript are queued on start.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fw.Close()
	defer w.stopTimers()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("inbox: create dir: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	slog.Info("Started watching inbox", "path", w.dir)
	close(w.ready)

	w.backfill()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Inbox watcher error", "error", err)
		}
	}
}

// Complete writes the transcript sidecar for a job this watcher queued.
// Jobs from other sources are ignored.
func (w *Watcher) Complete(job jobs.Job) {
	w.mu.Lock()
	recording, ok := w.pending[job.ID]
	delete(w.pending, job.ID)
	w.mu.Unlock()
	if !ok {
		return
	}

	var body any = job.Outcome
	if job.Outcome == nil {
		body = map[string]any{"success": false, "text": "", "error": job.Error}
	}
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		slog.Error("Failed to encode transcript", "job", job.ID, "error", err)
		return
	}

	path := SidecarPath(recording)
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		slog.Error("Failed to write transcript", "path", path, "error", err)
		return
	}
	slog.Info("Transcript written", "recording", filepath.Base(recording), "path", path, "status", job.Status)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.forget(event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if w.eligible(event.Name) {
			w.schedule(event.Name)
		}
	}
}

// eligible reports whether path is a recording we should transcribe.
func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	if !audio.Supported(path) || audio.IsTemporary(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (w *Watcher) backfill() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("Failed to scan inbox", "path", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if !w.eligible(path) {
			continue
		}
		if _, err := os.Stat(SidecarPath(path)); err == nil {
			continue
		}
		w.schedule(path)
	}
}

// schedule queues path once it has been quiet for the settle period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitted[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.submit(path) })
}

func (w *Watcher) submit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.timers, path)
	if w.submitted[path] {
		return
	}
	if _, err := os.Stat(path); err != nil {
		slog.Warn("Recording vanished before queueing", "path", path)
		return
	}

	job, err := w.queue.Submit(jobs.Request{Path: path, Language: w.language})
	if err != nil {
		slog.Error("Failed to queue recording", "path", path, "error", err)
		return
	}
	w.submitted[path] = true
	w.pending[job.ID] = path
	slog.Info("Queued recording from inbox", "file", filepath.Base(path), "job", job.ID)
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	delete(w.submitted, path)
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
