package monitor

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/model"
)

type staticConfig struct {
	mu      sync.Mutex
	cfg     config.Config
	changes chan struct{}
}

func (s *staticConfig) Get() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticConfig) Subscribe() <-chan struct{} { return s.changes }

func (s *staticConfig) set(cfg config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.changes <- struct{}{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerSyncsMonitorsForRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	disabled := false
	monitorFor := func(id string, regions ...string) config.Monitor {
		return config.Monitor{ID: id, Name: id, Type: "http", Target: srv.URL, Method: "GET", Interval: 60, Timeout: 5, Regions: regions}
	}
	cfg := config.DefaultConfig()
	cfg.Monitors = []config.Monitor{
		monitorFor("everywhere"),
		monitorFor("here", "ams"),
		monitorFor("elsewhere", "fra"),
	}
	off := monitorFor("off")
	off.Enabled = &disabled
	cfg.Monitors = append(cfg.Monitors, off)

	src := &staticConfig{cfg: cfg, changes: make(chan struct{}, 1)}
	statuses := &fakeStatuses{}
	s := NewScheduler(src, NewAnalyzer("ams", statuses, &fakeDispatcher{}), model.Region("ams"))
	s.Start()
	t.Cleanup(s.Stop)

	running := s.Running()
	slices.Sort(running)
	if !slices.Equal(running, []string{"everywhere", "here"}) {
		t.Fatalf("Running() = %v", running)
	}
	waitFor(t, func() bool { return len(statuses.Calls()) >= 2 })

	next := cfg
	next.Monitors = []config.Monitor{monitorFor("here", "ams")}
	src.set(next)
	waitFor(t, func() bool { return slices.Equal(s.Running(), []string{"here"}) })
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	src := &staticConfig{cfg: config.DefaultConfig(), changes: make(chan struct{}, 1)}
	s := NewScheduler(src, NewAnalyzer("ams", &fakeStatuses{}, &fakeDispatcher{}), "ams")
	s.Start()
	s.Stop()
	s.Stop()
	if len(s.Running()) != 0 {
		t.Errorf("Running() after Stop = %v", s.Running())
	}
}
