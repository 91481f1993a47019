package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/adhocore/gronx"

	"github.com/opengunther/guenther/internal/config"
)

var loadedAt = time.Date(2024, 3, 1, 10, 3, 0, 0, time.UTC)

func TestCompileJob(t *testing.T) {
	cases := []struct {
		name   string
		record config.AutopromptConfig
		cron   string
		every  time.Duration
		ok     bool
	}{
		{"interval 15m", config.AutopromptConfig{ScheduleType: "interval", IntervalMinutes: 15}, "", 15 * time.Minute, true},
		{"interval 120m", config.AutopromptConfig{ScheduleType: "interval", IntervalMinutes: 120}, "", 120 * time.Minute, true},
		{"interval invalid", config.AutopromptConfig{ScheduleType: "interval"}, "", 0, false},
		{"daily", config.AutopromptConfig{ScheduleType: "daily", DailyTime: "08:00"}, "0 8 * * *", 0, true},
		{"daily bad time", config.AutopromptConfig{ScheduleType: "daily", DailyTime: "25:99"}, "", 0, false},
		{"weekly monday", config.AutopromptConfig{ScheduleType: "weekly", WeeklyDay: 0, WeeklyTime: "09:30"}, "30 9 * * 1", 0, true},
		{"weekly sunday", config.AutopromptConfig{ScheduleType: "weekly", WeeklyDay: 6, WeeklyTime: "09:30"}, "30 9 * * 0", 0, true},
		{"unknown type", config.AutopromptConfig{ScheduleType: "hourly"}, "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j, err := compileJob(tc.record, loadedAt)
			if tc.ok != (err == nil) {
				t.Fatalf("err = %v", err)
			}
			if err != nil {
				return
			}
			if j.cron != tc.cron || j.every != tc.every {
				t.Fatalf("job = {cron:%q every:%v}, want {cron:%q every:%v}", j.cron, j.every, tc.cron, tc.every)
			}
		})
	}
}

func TestIntervalFirstFireOnePeriodAfterLoad(t *testing.T) {
	// A 7-minute job loaded at 10:03 must fire at 10:10, not at the next
	// wall-clock minute divisible by 7.
	j, err := compileJob(config.AutopromptConfig{ScheduleType: "interval", IntervalMinutes: 7}, loadedAt)
	if err != nil {
		t.Fatal(err)
	}
	want := loadedAt.Add(7 * time.Minute)
	if !j.next.Equal(want) {
		t.Fatalf("next = %v, want %v", j.next, want)
	}
}

func TestIntervalTickAdvancesDeadline(t *testing.T) {
	cfg := config.Default()
	cfg.Autoprompts = []config.AutopromptConfig{
		{ID: "i", Name: "i", Prompt: "p", Enabled: true, ScheduleType: "interval", IntervalMinutes: 7},
	}

	s := New(cfg, func(ctx context.Context, record config.AutopromptConfig) (string, error) {
		return "", nil
	}, nil, nil)
	s.Reload()

	s.mu.Lock()
	j := s.jobs["i"]
	j.next = loadedAt.Add(7 * time.Minute)
	s.mu.Unlock()

	// One minute before the deadline: nothing fires, deadline unchanged.
	s.tick(context.Background(), loadedAt.Add(6*time.Minute))
	s.mu.Lock()
	if !j.next.Equal(loadedAt.Add(7 * time.Minute)) {
		s.mu.Unlock()
		t.Fatalf("deadline moved early: %v", j.next)
	}
	s.mu.Unlock()

	// At the deadline: the job is due and the deadline advances by one
	// period from the *scheduled* time, keeping the cadence stable.
	s.tick(context.Background(), loadedAt.Add(7*time.Minute))
	s.mu.Lock()
	if !j.next.Equal(loadedAt.Add(14 * time.Minute)) {
		s.mu.Unlock()
		t.Fatalf("deadline after fire = %v, want %v", j.next, loadedAt.Add(14*time.Minute))
	}
	s.mu.Unlock()
}

func TestDailyTriggerFiresAtItsMinute(t *testing.T) {
	j, err := compileJob(config.AutopromptConfig{ScheduleType: "daily", DailyTime: "08:00"}, loadedAt)
	if err != nil {
		t.Fatal(err)
	}
	g := gronx.New()

	at := time.Date(2024, 3, 1, 8, 0, 30, 0, time.UTC)
	due, err := g.IsDue(j.cron, at)
	if err != nil || !due {
		t.Fatalf("IsDue(08:00:30) = %v, %v; want due", due, err)
	}

	before := time.Date(2024, 3, 1, 7, 59, 0, 0, time.UTC)
	due, _ = g.IsDue(j.cron, before)
	if due {
		t.Fatal("trigger fired a minute early")
	}
}

func TestReloadDropsDisabledRecords(t *testing.T) {
	cfg := config.Default()
	cfg.Autoprompts = []config.AutopromptConfig{
		{ID: "on", Name: "an", Prompt: "p", Enabled: true, ScheduleType: "daily", DailyTime: "08:00"},
		{ID: "off", Name: "aus", Prompt: "p", Enabled: false, ScheduleType: "daily", DailyTime: "08:00"},
		{ID: "broken", Name: "kaputt", Prompt: "p", Enabled: true, ScheduleType: "interval"},
	}

	s := New(cfg, nil, nil, nil)
	s.Reload()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs["on"]; !ok {
		t.Fatal("enabled record has no trigger")
	}
	if _, ok := s.jobs["off"]; ok {
		t.Fatal("disabled record still has a trigger")
	}
	if _, ok := s.jobs["broken"]; ok {
		t.Fatal("uncompilable record got a trigger")
	}
}

func TestReloadKeepsIntervalCountdown(t *testing.T) {
	cfg := config.Default()
	cfg.Autoprompts = []config.AutopromptConfig{
		{ID: "i", Name: "i", Prompt: "p", Enabled: true, ScheduleType: "interval", IntervalMinutes: 30},
	}
	s := New(cfg, nil, nil, nil)
	s.Reload()

	s.mu.Lock()
	s.jobs["i"].next = loadedAt.Add(12 * time.Minute)
	s.mu.Unlock()

	// An unrelated settings save triggers a full reload; the running
	// countdown must survive it.
	s.Reload()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.jobs["i"].next.Equal(loadedAt.Add(12 * time.Minute)) {
		t.Fatalf("reload reset the interval countdown to %v", s.jobs["i"].next)
	}
}

func TestReloadOneSwapsSingleTrigger(t *testing.T) {
	cfg := config.Default()
	cfg.Autoprompts = []config.AutopromptConfig{
		{ID: "a", Name: "a", Prompt: "p", Enabled: true, ScheduleType: "daily", DailyTime: "08:00"},
		{ID: "b", Name: "b", Prompt: "p", Enabled: true, ScheduleType: "daily", DailyTime: "09:00"},
	}
	s := New(cfg, nil, nil, nil)
	s.Reload()

	// Disable "a" in config; ReloadOne must remove exactly its trigger.
	cfg.Lock()
	cfg.Autoprompts[0].Enabled = false
	cfg.Unlock()
	s.ReloadOne("a")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs["a"]; ok {
		t.Fatal("disabled record kept its trigger")
	}
	if _, ok := s.jobs["b"]; !ok {
		t.Fatal("unrelated trigger was dropped")
	}
}
