package cron

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/linanwx/edgeagent/logger"
)

// Scheduler runs stored jobs and wakes their sessions when due.
type Scheduler struct {
	mu      sync.Mutex
	sched   gocron.Scheduler
	store   *Store
	waker   Waker
	jobs    map[string]Job
	handles map[string]uuid.UUID
	now     func() time.Time

	storeMod time.Time // store ModTime after the last load or save
}

// NewScheduler creates a scheduler over store. A nil waker only logs due
// jobs.
func NewScheduler(store *Store, waker Waker) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if store == nil {
		store = NewStore("")
	}
	return &Scheduler{
		sched:   sched,
		store:   store,
		waker:   waker,
		jobs:    make(map[string]Job),
		handles: make(map[string]uuid.UUID),
		now:     time.Now,
	}, nil
}

// Load replaces the scheduled jobs with the store's content. At jobs
// whose time has passed are dropped from the store.
func (s *Scheduler) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

// ReloadIfChanged reloads when the store file was modified by someone
// else since the last load or save. It reports whether it reloaded.
func (s *Scheduler) ReloadIfChanged() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.ModTime().Equal(s.storeMod) {
		return false, nil
	}
	return true, s.loadLocked()
}

func (s *Scheduler) loadLocked() error {
	list, err := s.store.Read()
	if err != nil {
		return err
	}
	s.resetLocked()
	s.storeMod = s.store.ModTime()

	now := s.now().UTC()
	dirty := false
	for _, raw := range list {
		job := Normalize(raw)
		ok, expired := validStored(job, now)
		if !ok {
			if expired {
				dirty = true
				logger.Info("dropping expired at job", "id", job.ID, "atTime", job.AtTime)
			} else {
				logger.Warn("skipping invalid stored job", "id", job.ID, "kind", job.Kind)
			}
			continue
		}
		s.jobs[job.ID] = job
		if err := s.scheduleLocked(job); err != nil {
			logger.Warn("failed to schedule job from store", "id", job.ID, "kind", job.Kind, "err", err)
		}
	}

	if dirty {
		if err := s.saveLocked(); err != nil {
			logger.Warn("failed to save cron store after pruning expired at jobs", "err", err)
		}
	}
	logger.Info("cron jobs loaded", "jobs", len(s.jobs), "store", s.store.Path())
	return nil
}

// Add validates, schedules and persists job.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job = Normalize(job)
	job.Enabled = true
	if err := ValidateNew(job, s.jobs, s.now().UTC()); err != nil {
		return err
	}
	if err := s.scheduleLocked(job); err != nil {
		return err
	}
	s.jobs[job.ID] = job
	if err := s.saveLocked(); err != nil {
		s.unscheduleLocked(job.ID)
		delete(s.jobs, job.ID)
		return err
	}
	logger.Info("cron job added", "id", job.ID, "kind", job.Kind, "sessionKey", job.SessionKey)
	return nil
}

// Remove unschedules and forgets the job with id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	s.unscheduleLocked(id)
	delete(s.jobs, id)
	return s.saveLocked()
}

// List returns the jobs sorted by ID.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start begins firing jobs.
func (s *Scheduler) Start() { s.sched.Start() }

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.jobs = make(map[string]Job)
	s.handles = make(map[string]uuid.UUID)
	s.mu.Unlock()
	return s.sched.Shutdown()
}

func (s *Scheduler) scheduleLocked(job Job) error {
	if !job.Enabled {
		return nil
	}

	var def gocron.JobDefinition
	switch job.Kind {
	case JobKindCron:
		def = gocron.CronJob(job.Expr, false)
	case JobKindAt:
		if !job.AtTime.After(s.now()) {
			return fmt.Errorf("at_time must be in the future")
		}
		def = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(job.AtTime))
	default:
		return fmt.Errorf("unsupported job kind: %s", job.Kind)
	}

	j, err := s.sched.NewJob(def,
		gocron.NewTask(s.fire, job),
		gocron.WithName(job.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.ID, err)
	}
	s.handles[job.ID] = j.ID()
	return nil
}

func (s *Scheduler) unscheduleLocked(id string) {
	h, ok := s.handles[id]
	if !ok {
		return
	}
	delete(s.handles, id)
	if err := s.sched.RemoveJob(h); err != nil {
		logger.Debug("remove scheduled job", "id", id, "err", err)
	}
}

func (s *Scheduler) resetLocked() {
	for id := range s.handles {
		s.unscheduleLocked(id)
	}
	s.jobs = make(map[string]Job)
	s.handles = make(map[string]uuid.UUID)
}

func (s *Scheduler) saveLocked() error {
	list := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		list = append(list, job)
	}
	if err := s.store.Write(list); err != nil {
		return err
	}
	s.storeMod = s.store.ModTime()
	return nil
}

// fire wakes the job's session. A fired at job is removed from the store.
func (s *Scheduler) fire(job Job) {
	logger.Info("cron job due", "id", job.ID, "kind", job.Kind, "sessionKey", job.SessionKey)
	if s.waker != nil {
		s.waker.WakeWith(job.SessionKey, job.Kind, job.Task)
	}
	if job.Kind != JobKindAt {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return
	}
	delete(s.jobs, job.ID)
	delete(s.handles, job.ID)
	if err := s.saveLocked(); err != nil {
		logger.Warn("failed to persist cron store after at job execution", "id", job.ID, "err", err)
	}
}
