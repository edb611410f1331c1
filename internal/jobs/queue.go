// Package jobs runs transcription requests on a single background worker and
// tracks their progress.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/meetscribe/internal/transcribe"
)

// ErrQueueFull is returned when the pending queue has no free slot.
var ErrQueueFull = errors.New("job queue full")

// DefaultHistory is how many jobs a Queue remembers before dropping the
// oldest finished ones.
const DefaultHistory = 1000

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Request describes one transcription.
type Request struct {
	Path     string              `json:"path"`
	Language string              `json:"language"`
	Windows  []transcribe.Window `json:"windows,omitempty"`
}

// Job is a snapshot of a queued transcription.
type Job struct {
	ID         string             `json:"id"`
	Request    Request            `json:"request"`
	Status     Status             `json:"status"`
	Outcome    transcribe.Outcome `json:"outcome,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Transcriber is the engine surface the worker drives.
type Transcriber interface {
	TranscribeSegments(ctx context.Context, path string, windows []transcribe.Window, language string) (transcribe.Outcome, error)
}

// Queue holds pending jobs and runs them one at a time.
type Queue struct {
	engine Transcriber
	bus    *EventBus
	ready  chan string

	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	maxJobs int
	onDone  []func(Job)
}

// NewQueue creates a queue accepting up to size pending jobs.
func NewQueue(engine Transcriber, bus *EventBus, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		engine:  engine,
		bus:     bus,
		ready:   make(chan string, size),
		jobs:    make(map[string]*Job),
		maxJobs: DefaultHistory,
	}
}

// OnComplete registers fn to run after every finished job, on the worker goroutine.
func (q *Queue) OnComplete(fn func(Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDone = append(q.onDone, fn)
}

// Submit enqueues req and returns the new job.
func (q *Queue) Submit(req Request) (Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	select {
	case q.ready <- job.ID:
	default:
		q.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.pruneLocked()
	snapshot := *job
	q.mu.Unlock()

	q.bus.Publish(Event{JobID: job.ID, Type: EventTypeQueued, Status: StatusQueued, Message: filepath.Base(req.Path)})
	slog.Info("Job queued", "job", job.ID, "file", filepath.Base(req.Path))
	return snapshot, nil
}

// Get returns a snapshot of job id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs in submission order.
func (q *Queue) List() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Run processes jobs until ctx is cancelled. Only one job runs at a time.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ready:
			q.process(ctx, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, id string) {
	now := time.Now().UTC()
	q.mu.Lock()
	job := q.jobs[id]
	job.Status = StatusRunning
	job.StartedAt = &now
	req := job.Request
	q.mu.Unlock()

	q.bus.Publish(Event{JobID: id, Type: EventTypeStarted, Status: StatusRunning})
	slog.Info("Job started", "job", id)

	outcome, err := q.engine.TranscribeSegments(ctx, req.Path, req.Windows, req.Language)

	finished := time.Now().UTC()
	q.mu.Lock()
	job.FinishedAt = &finished
	switch {
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	case outcome.Succeeded():
		job.Status = StatusDone
		job.Outcome = outcome
	default:
		job.Status = StatusFailed
		job.Outcome = outcome
		if f, ok := outcome.(*transcribe.Failure); ok {
			job.Error = f.Error
		}
	}
	snapshot := *job
	hooks := append([]func(Job){}, q.onDone...)
	q.pruneLocked()
	q.mu.Unlock()

	q.bus.Publish(Event{JobID: id, Type: EventTypeFinished, Status: snapshot.Status, Message: snapshot.Error})
	slog.Info("Job finished", "job", id, "status", snapshot.Status, "elapsed", finished.Sub(now).Round(time.Millisecond))

	for _, fn := range hooks {
		fn(snapshot)
	}
}

// pruneLocked drops the oldest finished jobs while more than maxJobs are
// held. Queued and running jobs are never dropped.
func (q *Queue) pruneLocked() {
	excess := len(q.order) - q.maxJobs
	if excess <= 0 {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if excess > 0 && q.jobs[id].FinishedAt != nil {
			delete(q.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}
