package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id is unknown to the manager.
var ErrJobNotFound = errors.New("job not found")

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a snapshot of one tracked background operation.
type Job struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation is the unit of work a job runs. It receives its own job id so it
// can report progress back through the manager, must honor ctx cancellation
// at its blocking points, and its return value becomes the job result.
type Operation func(ctx context.Context, jobID string) (any, error)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager tracks lifecycle, progress, and cancellation of independently
// scheduled background operations. Job state lives in memory for the life of
// the process; a restart forgets everything, including jobs that were running.
type Manager struct {
	logger *slog.Logger

	mu    sync.RWMutex
	jobs  map[string]*Job
	tasks map[string]*task
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		logger: logger,
		jobs:   make(map[string]*Job),
		tasks:  make(map[string]*task),
	}
}

// Submit registers a job in pending state and schedules op as an independent
// goroutine, returning the job id immediately. The job moves to running when
// the goroutine begins executing, and to a terminal state when op returns:
// completed with the result recorded, cancelled when op was unwound by a
// cancellation request, failed otherwise with the error text. Failures never
// propagate beyond the task boundary.
func (m *Manager) Submit(projectID, kind string, op Operation) string {
	id := uuid.NewString()
	now := time.Now().UTC()
	job := &Job{
		ID:        id,
		ProjectID: projectID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.jobs[id] = job
	m.tasks[id] = t
	m.mu.Unlock()

	go m.run(ctx, id, op, t)
	return id
}

func (m *Manager) run(ctx context.Context, id string, op Operation, t *task) {
	defer close(t.done)
	defer t.cancel()

	m.transition(id, func(j *Job) {
		j.Status = StatusRunning
	})

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return op(ctx, id)
	}()

	switch {
	case err == nil:
		m.transition(id, func(j *Job) {
			j.Status = StatusCompleted
			j.Progress = 100
			j.Message = "Complete"
			j.Result = result
		})
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancellation is an outcome, not an error.
		m.transition(id, func(j *Job) {
			j.Status = StatusCancelled
			j.Message = "Cancelled"
		})
		m.logger.Info("job cancelled", "job_id", id)
	default:
		m.transition(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.Message = "Failed: " + err.Error()
		})
		m.logger.Error("job failed", "job_id", id, "error", err)
	}
}

// transition applies fn under the lock unless the job is already terminal.
func (m *Manager) transition(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
}

// GetJob returns a snapshot of the job, or ErrJobNotFound.
func (m *Manager) GetJob(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// GetJobsForProject returns snapshots of every job owned by the project, in
// no particular order.
func (m *Manager) GetJobsForProject(projectID string) []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Job
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			out = append(out, *j)
		}
	}
	return out
}

// UpdateProgress records progress and message on a running job. Calls against
// pending or terminal jobs are ignored.
func (m *Manager) UpdateProgress(id string, progress float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusRunning {
		return
	}
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
}

// Cancel requests cooperative cancellation of an in-flight job and waits for
// the task to settle. Returns false when the job is unknown or already
// terminal. A task that completes naturally while the request is in flight
// keeps its completed/failed outcome.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	j, ok := m.jobs[id]
	t := m.tasks[id]
	terminal := ok && j.Status.Terminal()
	m.mu.RUnlock()

	if !ok || t == nil || terminal {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
	}
	t.cancel()
	<-t.done
	return true
}

// CleanupCompleted removes terminal jobs whose last update is older than
// maxAge and returns how many were removed. Safe to call concurrently with
// submissions.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every in-flight job and waits for the tasks to unwind.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}
