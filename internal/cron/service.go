package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler is called when a job fires.
type Handler func(ctx context.Context, job CronJob) error

type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []CronJob
	OnJob     Handler
	cron      *rcron.Cron
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	done      chan struct{}
	tick      time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
		tick:      time.Second,
		now:       time.Now,
		logger:    log.With().Str("component", "cron").Logger(),
	}
}

// SetLogger replaces the service logger.
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SetClock replaces the time source used for "at" and "every" jobs.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetTickInterval changes how often "at" and "every" jobs are checked.
func (s *Service) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// Start loads persisted jobs and begins firing them. It returns immediately;
// the service stops when ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	done := make(chan struct{})

	if err := s.load(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load jobs")
	}

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.done = done
	s.cron = rcron.New(rcron.WithParser(cronParser), rcron.WithLocation(time.Local))
	now := s.now()
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		if job.Schedule.Kind == KindCron {
			s.registerJob(job)
		} else if job.State.NextRunAtMs == 0 {
			s.scheduleNext(job, now)
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", count).Msg("started")

	go func() {
		defer close(done)
		s.tickLoop(runCtx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *CronJob) {
	if s.cron == nil {
		return
	}
	id := job.ID
	entry, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.fire(id)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Str("expr", job.Schedule.Expr).Msg("failed to register job")
		return
	}
	s.entryMap[job.ID] = entry
}

func (s *Service) unregisterJob(id string) {
	if entry, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entry)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) scheduleNext(job *CronJob, from time.Time) {
	next := job.Schedule.Next(from)
	if next.IsZero() {
		if job.Schedule.Kind == KindAt && job.Schedule.AtMs > 0 {
			// Missed while not running: fire on the next tick.
			job.State.NextRunAtMs = job.Schedule.AtMs
			return
		}
		job.State.NextRunAtMs = 0
		return
	}
	job.State.NextRunAtMs = next.UnixMilli()
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	var (
		job   CronJob
		found bool
	)
	for _, j := range s.jobs {
		if j.ID == id {
			job, found = j, true
			break
		}
	}
	ctx := s.runCtx
	s.mu.Unlock()
	if !found || !job.Enabled {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.executeJob(ctx, job)
}

func (s *Service) executeJob(ctx context.Context, job CronJob) {
	s.logger.Debug().Str("job", job.Name).Str("id", job.ID).Msg("executing job")

	var err error
	if s.OnJob == nil {
		s.logger.Warn().Msg("no OnJob handler set")
	} else {
		err = s.OnJob(ctx, job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		j := &s.jobs[i]
		j.State.LastRunAtMs = now.UnixMilli()
		j.State.Runs++
		if err != nil {
			j.State.LastStatus = "error"
			j.State.LastError = err.Error()
			s.logger.Error().Err(err).Str("job", job.Name).Msg("job failed")
		} else {
			j.State.LastStatus = "ok"
			j.State.LastError = ""
		}

		switch {
		case j.DeleteAfterRun:
			s.unregisterJob(j.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		case j.Schedule.Kind == KindAt:
			j.Enabled = false
			j.State.NextRunAtMs = 0
		case j.Schedule.Kind == KindEvery:
			s.scheduleNext(j, now)
		}
		break
	}

	if err := s.save(); err != nil {
		s.logger.Error().Err(err).Msg("failed to save jobs")
	}
}

// tickLoop fires "at" and "every" jobs; cron expressions are driven by the
// robfig scheduler.
func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, job := range s.due() {
				if ctx.Err() != nil {
					return
				}
				s.executeJob(ctx, job)
			}
		case <-ctx.Done():
			return
		}
	}
}

// due collects the enabled "at" and "every" jobs whose next run has passed.
// "at" jobs are disabled immediately so a slow handler cannot fire them twice.
func (s *Service) due() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	var out []CronJob
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled || job.Schedule.Kind == KindCron {
			continue
		}
		if job.State.NextRunAtMs == 0 || now < job.State.NextRunAtMs {
			continue
		}
		if job.Schedule.Kind == KindAt {
			job.State.NextRunAtMs = 0
		} else {
			job.State.NextRunAtMs = now + job.Schedule.EveryMs
		}
		out = append(out, *job)
	}
	return out
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	done := s.done
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)
	if done != nil {
		<-done
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn().Msg("stop timeout waiting for running jobs")
		}
	}
	s.logger.Info().Msg("stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewCronJob(name, schedule, payload)
	job.CreatedAtMs = s.now().UnixMilli()
	if schedule.Kind != KindCron {
		s.scheduleNext(&job, s.now())
	}
	s.jobs = append(s.jobs, job)

	if job.Schedule.Kind == KindCron {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}

	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregisterJob(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				s.logger.Error().Err(err).Msg("failed to save jobs")
			}
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		job := &s.jobs[i]
		if job.ID != id {
			continue
		}
		job.Enabled = enabled
		switch {
		case job.Schedule.Kind == KindCron && enabled:
			if _, ok := s.entryMap[id]; !ok {
				s.registerJob(job)
			}
		case job.Schedule.Kind == KindCron:
			s.unregisterJob(id)
		case enabled:
			s.scheduleNext(job, s.now())
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("save jobs: %w", err)
		}
		cp := *job
		return &cp, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// Load reads persisted jobs without starting the scheduler.
func (s *Service) Load() error { return s.load() }

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

// save must be called with s.mu held.
func (s *Service) save() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
