// Package cron runs the gateway's scheduled jobs on cron expressions with a
// seconds field.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Func is the body of a scheduled job. The returned text is logged.
type Func func(ctx context.Context) (string, error)

// JobState is the outcome of the last run of a job.
type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

type Job struct {
	Name  string   `json:"name"`
	Expr  string   `json:"expr"`
	State JobState `json:"state"`

	fn    Func
	entry rcron.EntryID
}

type Service struct {
	mu     sync.Mutex
	cron   *rcron.Cron
	jobs   []*Job
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func NewService(log zerolog.Logger) *Service {
	return &Service{
		cron: rcron.New(rcron.WithSeconds()),
		log:  log,
	}
}

// AddJob schedules fn under name. The expression has six fields, seconds first.
func (s *Service) AddJob(name, expr string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{Name: name, Expr: expr, fn: fn}
	id, err := s.cron.AddFunc(expr, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("schedule job %s (%s): %w", name, expr, err)
	}
	job.entry = id
	s.jobs = append(s.jobs, job)
	return nil
}

// Start runs the scheduler until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", n).Msg("scheduler started")

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// RunNow executes the named job immediately.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var job *Job
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("job %s not found", name)
	}
	s.execute(job)
	return nil
}

func (s *Service) execute(job *Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := job.fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	job.State.LastRunAt = time.Now()
	job.State.Runs++
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		s.log.Error().Err(err).Str("job", job.Name).Msg("job failed")
		return
	}
	job.State.LastStatus = "ok"
	job.State.LastError = ""
	s.log.Info().Str("job", job.Name).Str("result", truncate(result, 100)).Msg("job finished")
}

// Stop halts scheduling and waits up to five seconds for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("stop timeout waiting for running jobs")
	}
	s.log.Info().Msg("scheduler stopped")
}

// ListJobs returns a snapshot of the scheduled jobs.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Job{Name: j.Name, Expr: j.Expr, State: j.State})
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
