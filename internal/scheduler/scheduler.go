// Package scheduler fires AutopromptRecords on interval/daily/weekly
// triggers and replays their stored prompt through the agent orchestrator.
//
// Daily and weekly triggers compile to 5-field cron expressions evaluated
// by github.com/adhocore/gronx every tick. Interval triggers keep their
// own next-fire deadline instead: an every-N-minutes record fires N
// minutes after it was loaded or last fired, not at wall-clock minutes
// divisible by N.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/opengunther/guenther/internal/config"
)

// tickInterval is how often the scheduler checks trigger expressions
// against the current time. One minute matches the coarsest trigger
// granularity (HH:MM) the config model supports.
const tickInterval = time.Minute

// RunFunc invokes one agent turn for a record and reports its outcome.
// Implemented by the caller (cmd/gateway.go) so the scheduler package has
// no direct dependency on internal/agent.
type RunFunc func(ctx context.Context, record config.AutopromptConfig) (response string, err error)

// RunStore persists last_run/last_error bookkeeping, decoupled from the
// trigger definitions in config.Config.Autoprompts.
type RunStore interface {
	RecordRun(id string, ranAt time.Time, errMsg string) error
}

// EventPublisher broadcasts the autoprompt_done notification to settings-UI
// subscribers.
type EventPublisher interface {
	Broadcast(eventType string, payload interface{})
}

type job struct {
	record config.AutopromptConfig

	// Exactly one of the two trigger forms is set.
	cron  string        // daily/weekly: cron expression, evaluated in UTC
	every time.Duration // interval: fire period
	next  time.Time     // interval: next fire deadline
}

// Scheduler holds the current set of scheduled autoprompt triggers.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	cfg   *config.Config
	run   RunFunc
	store RunStore
	bus   EventPublisher

	gron *gronx.Gronx

	cancel context.CancelFunc
}

// New creates a Scheduler. Call Start to begin the tick loop and Reload
// to (re-)compile triggers from cfg.Autoprompts.
func New(cfg *config.Config, run RunFunc, store RunStore, bus EventPublisher) *Scheduler {
	return &Scheduler{
		jobs:  make(map[string]*job),
		cfg:   cfg,
		run:   run,
		store: store,
		bus:   bus,
		gron:  gronx.New(),
	}
}

// Start launches the tick loop in a background goroutine. It survives
// individual job failures indefinitely; only ctx cancellation stops it.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.Reload()

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now.UTC())
			}
		}
	}()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Reload recompiles every enabled record's cron expression and drops
// disabled ones. Editing one record only needs one trigger swapped (an editor may call
// ReloadOne for a single record to avoid a full recompile).
func (s *Scheduler) Reload() {
	s.cfg.RLock()
	records := append([]config.AutopromptConfig(nil), s.cfg.Autoprompts...)
	s.cfg.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	fresh := make(map[string]*job, len(records))
	for _, r := range records {
		if !r.Enabled {
			continue
		}
		j, err := compileJob(r, now)
		if err != nil {
			slog.Warn("autoprompt: could not compile trigger", "id", r.ID, "error", err)
			continue
		}
		// A full reload must not reset running interval countdowns, or
		// every settings save would push interval jobs out by one period.
		if old, ok := s.jobs[r.ID]; ok && j.every > 0 && old.every == j.every {
			j.next = old.next
		}
		fresh[r.ID] = j
	}
	s.jobs = fresh
	slog.Info("autoprompt: scheduler reloaded", "active_jobs", len(s.jobs))
}

// ReloadOne removes any existing trigger for id and re-inserts it from
// the current config state, per the single-trigger reload contract.
func (s *Scheduler) ReloadOne(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()

	s.cfg.RLock()
	var found *config.AutopromptConfig
	for _, r := range s.cfg.Autoprompts {
		if r.ID == id {
			rc := r
			found = &rc
			break
		}
	}
	s.cfg.RUnlock()

	if found == nil || !found.Enabled {
		return
	}
	j, err := compileJob(*found, time.Now().UTC())
	if err != nil {
		slog.Warn("autoprompt: could not compile trigger", "id", id, "error", err)
		return
	}
	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()
}

// compileJob turns an AutopromptConfig's schedule into a runnable job.
// Interval records get a deadline one full period after loadedAt, so the
// first fire happens one interval after load, not at the next wall-clock
// boundary. Daily/weekly records become UTC cron expressions.
func compileJob(r config.AutopromptConfig, loadedAt time.Time) (*job, error) {
	switch r.ScheduleType {
	case "interval":
		if r.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("interval_minutes must be positive")
		}
		every := time.Duration(r.IntervalMinutes) * time.Minute
		return &job{record: r, every: every, next: loadedAt.Add(every)}, nil
	case "daily":
		h, m, err := parseHHMM(r.DailyTime)
		if err != nil {
			return nil, err
		}
		return &job{record: r, cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
	case "weekly":
		h, m, err := parseHHMM(r.WeeklyTime)
		if err != nil {
			return nil, err
		}
		// config.WeeklyDay: 0=Monday..6=Sunday. Cron day-of-week: 0=Sunday..6=Saturday.
		cronDow := (r.WeeklyDay + 1) % 7
		return &job{record: r, cron: fmt.Sprintf("%d %d * * %d", m, h, cronDow)}, nil
	default:
		return nil, fmt.Errorf("unknown schedule_type %q", r.ScheduleType)
	}
}

func parseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// tick evaluates every active trigger against now and fires matching jobs.
// A job's own failure (logged into last_error) never stops the loop from
// evaluating the rest.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]config.AutopromptConfig, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.every > 0 {
			if now.Before(j.next) {
				continue
			}
			due = append(due, j.record)
			// Advance relative to the scheduled deadline so the period
			// stays stable even when a tick lands late.
			for !j.next.After(now) {
				j.next = j.next.Add(j.every)
			}
			continue
		}
		ok, err := s.gron.IsDue(j.cron, now)
		if err != nil {
			slog.Warn("autoprompt: trigger evaluation failed", "id", j.record.ID, "error", err)
			continue
		}
		if ok {
			due = append(due, j.record)
		}
	}
	s.mu.Unlock()

	for _, record := range due {
		go s.fire(ctx, record)
	}
}

// RunNow triggers record immediately in the background, regardless of its
// schedule. The caller returns before the run completes.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.cfg.RLock()
	var found *config.AutopromptConfig
	for _, r := range s.cfg.Autoprompts {
		if r.ID == id {
			rc := r
			found = &rc
			break
		}
	}
	s.cfg.RUnlock()
	if found == nil {
		return fmt.Errorf("autoprompt %s not found", id)
	}
	go s.fire(ctx, *found)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, record config.AutopromptConfig) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	_, err := s.run(runCtx, record)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		slog.Warn("autoprompt run failed", "id", record.ID, "name", record.Name, "error", err)
	}
	if s.store != nil {
		if rerr := s.store.RecordRun(record.ID, time.Now().UTC(), errMsg); rerr != nil {
			slog.Warn("autoprompt: failed to persist run record", "id", record.ID, "error", rerr)
		}
	}
	if s.bus != nil {
		s.bus.Broadcast("autoprompt_done", map[string]interface{}{
			"id":    record.ID,
			"name":  record.Name,
			"error": errMsg,
		})
	}
}
