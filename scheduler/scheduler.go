package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/malwarebo/paygate/utils"
	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 10 * time.Minute

// Job is a named periodic task. Schedule uses the six-field cron syntax
// with a leading seconds column.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type JobStats struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Runs         int64     `json:"runs"`
	Failures     int64     `json:"failures"`
	LastRun      time.Time `json:"last_run"`
	LastError    string    `json:"last_error,omitempty"`
	NextRun      time.Time `json:"next_run"`
	LastDuration string    `json:"last_duration"`
}

type scheduledJob struct {
	job     Job
	entryID cron.EntryID
	stats   JobStats
}

// Scheduler triggers background maintenance. Overlapping runs of the same
// job are skipped.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]*scheduledJob
}

func CreateScheduler() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		jobs: make(map[string]*scheduledJob),
	}
}

func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	sj := &scheduledJob{job: job, stats: JobStats{Name: job.Name, Schedule: job.Schedule}}
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
		s.execute(sj)
	}))
	id, err := s.cron.AddJob(job.Schedule, wrapped)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Name, err)
	}
	sj.entryID = id
	s.jobs[job.Name] = sj
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	utils.Info(context.Background(), "Scheduler started", map[string]interface{}{"jobs": s.names()})
}

// Stop halts triggering and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		utils.Info(ctx, "Scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	sj, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.execute(sj)
}

func (s *Scheduler) execute(sj *scheduledJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), sj.job.Timeout)
	defer cancel()
	ctx = utils.WithCorrelationID(ctx, "job-"+sj.job.Name)

	start := time.Now()
	err := sj.job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	sj.stats.Runs++
	sj.stats.LastRun = start.UTC()
	sj.stats.LastDuration = elapsed.String()
	sj.stats.LastError = ""
	if err != nil {
		sj.stats.Failures++
		sj.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	fields := map[string]interface{}{"job": sj.job.Name, "duration_ms": elapsed.Milliseconds()}
	if err != nil {
		fields["error"] = err
		utils.Error(ctx, "Scheduled job failed", fields)
		return err
	}
	utils.Debug(ctx, "Scheduled job finished", fields)
	return nil
}

func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.jobs))
	for _, sj := range s.jobs {
		stats := sj.stats
		stats.NextRun = s.cron.Entry(sj.entryID).Next
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger routes cron's own diagnostics to the service logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	utils.Debug(context.Background(), "cron: "+msg, kvFields(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err
	utils.Error(context.Background(), "cron: "+msg, fields)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
