// Package scheduler runs named jobs on cron triggers in a fixed timezone. A job
// never runs twice at once; failures and panics are isolated per job and alerted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"smart-progress/internal/logger"
	"smart-progress/internal/model"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type JobFunc func(ctx context.Context) error

// Alerter receives job failures.
type Alerter interface {
	Alert(ctx context.Context, job string, err error) error
}

type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	State     State     `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Runs      int       `json:"runs"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastEnd   time.Time `json:"last_end,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type job struct {
	fn      JobFunc
	entryID cron.EntryID
	status  JobStatus
}

type Scheduler struct {
	cron    *cron.Cron
	alerter Alerter
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	base context.Context
	wg   sync.WaitGroup
}

// New builds a scheduler whose cron specs are read in loc. timeout bounds a single
// run; zero means no limit.
func New(loc *time.Location, alerter Alerter, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		alerter: alerter,
		timeout: timeout,
		jobs:    map[string]*job{},
		base:    context.Background(),
	}
}

// Register adds a job. An empty spec registers a job that only runs on demand.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("register %s: duplicate job", name)
	}
	j := &job{fn: fn, status: JobStatus{Name: name, Spec: spec, State: StateIdle}}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.fire(name) })
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		j.entryID = id
	}
	s.jobs[name] = j
	return nil
}

// Start begins firing cron triggers. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
	s.cron.Start()
	logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts triggers and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()
	if err := s.Run(ctx, name); errors.Is(err, ErrJobRunning) {
		logger.Warn("job.overlap_rejected", "job", name)
	}
}

// Run executes name now and waits for it. It returns ErrJobRunning without
// running when the job is already in flight.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.status.State == StateRunning {
		s.mu.Unlock()
		return ErrJobRunning
	}
	runID := uuid.NewString()
	j.status.State = StateRunning
	j.status.RunID = runID
	j.status.LastStart = time.Now()
	j.status.Runs++
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	logger.Info("job.start", "job", name, "run_id", runID)
	err := invoke(ctx, j.fn)

	s.mu.Lock()
	j.status.LastEnd = time.Now()
	elapsed := j.status.LastEnd.Sub(j.status.LastStart)
	if err != nil {
		j.status.State = StateFailed
		j.status.LastError = model.Kind(err)
	} else {
		j.status.State = StateSucceeded
		j.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("job.failed", "job", name, "run_id", runID, "elapsed", elapsed, "kind", model.Kind(err), "err", err)
		if s.alerter != nil {
			if aerr := s.alerter.Alert(context.WithoutCancel(ctx), name, err); aerr != nil {
				logger.Error("job.alert_failed", "job", name, "err", aerr)
			}
		}
		return err
	}
	logger.Info("job.done", "job", name, "run_id", runID, "elapsed", elapsed)
	return nil
}

func invoke(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job.panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Status reports every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.status
		if j.entryID != 0 {
			st.Next = s.cron.Entry(j.entryID).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
