package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/ai"
	"github.com/neboloop/intentcore/internal/orchestrator"
)

// DefaultRunTimeout bounds one scheduled intent.
const DefaultRunTimeout = 5 * time.Minute

var ErrJobNotFound = errors.New("scheduled job not found")

// Submitter processes intent text. The orchestrator satisfies it.
type Submitter interface {
	ProcessIntent(ctx context.Context, text string, pref ai.Preference) (*orchestrator.Task, error)
}

// Job submits Intent every time Spec fires.
type Job struct {
	Name       string
	Spec       string
	Intent     string
	Preference ai.Preference
}

// Status describes a scheduled job.
type Status struct {
	Job
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastTask  string    `json:"last_task,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int       `json:"run_count"`
}

type scheduled struct {
	job     Job
	entryID cronlib.EntryID
	lastRun time.Time
	task    string
	err     string
	runs    int
}

// Scheduler submits intents on cron schedules.
type Scheduler struct {
	cron    *cronlib.Cron
	submit  Submitter
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*scheduled
}

// New creates a stopped scheduler. Specs use the standard five-field cron
// syntax plus descriptors such as @hourly and @every 10m.
func New(submit Submitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cronlib.New(
			cronlib.WithLogger(cl),
			cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
		),
		submit:  submit,
		logger:  logger,
		timeout: DefaultRunTimeout,
		jobs:    make(map[string]*scheduled),
	}
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped with jobs still running")
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}

// Add schedules job, replacing any job with the same name.
func (s *Scheduler) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		job.Name = job.Spec
	}
	if strings.TrimSpace(job.Intent) == "" {
		return fmt.Errorf("schedule %s: intent is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[job.Name]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, job.Name)
	}

	name := job.Name
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		s.run(context.Background(), name)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}

	s.jobs[job.Name] = &scheduled{job: job, entryID: entryID}
	s.logger.Info("intent scheduled", zap.String("name", job.Name), zap.String("spec", job.Spec))
	return nil
}

// Set replaces every scheduled job. Invalid jobs are skipped and reported
// together.
func (s *Scheduler) Set(jobs []Job) error {
	s.mu.Lock()
	for name, sj := range s.jobs {
		s.cron.Remove(sj.entryID)
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove unschedules the named job and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(sj.entryID)
	delete(s.jobs, name)
	return true
}

// Trigger runs the named job now, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*orchestrator.Task, error) {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, name)
}

// Jobs returns the scheduled jobs ordered by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, Status{
			Job:       sj.job,
			Next:      s.cron.Entry(sj.entryID).Next,
			LastRun:   sj.lastRun,
			LastTask:  sj.task,
			LastError: sj.err,
			RunCount:  sj.runs,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(ctx context.Context, name string) (*orchestrator.Task, error) {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	var job Job
	if ok {
		job = sj.job
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	task, err := s.submit.ProcessIntent(ctx, job.Intent, job.Preference)

	s.mu.Lock()
	if sj, ok := s.jobs[name]; ok {
		sj.lastRun = time.Now()
		sj.runs++
		sj.task = ""
		sj.err = ""
		if task != nil {
			sj.task = task.ID
		}
		if err != nil {
			sj.err = err.Error()
		}
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.Warn("scheduled intent failed", zap.String("name", name), zap.Error(err))
	case task == nil:
		s.logger.Info("scheduled intent resolved to nothing", zap.String("name", name))
	default:
		s.logger.Info("scheduled intent dispatched",
			zap.String("name", name),
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)))
	}
	return task, err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
