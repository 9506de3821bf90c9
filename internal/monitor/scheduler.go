// Package monitor is the embedded checker: one goroutine per monitor probes
// its target from the configured region and hands results to the Analyzer.
package monitor

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/model"
)

// ConfigSource supplies the monitor list and signals changes.
type ConfigSource interface {
	Get() config.Config
	Subscribe() <-chan struct{}
}

type runningMonitor struct {
	cancel context.CancelFunc
	cfg    config.Monitor
}

// Scheduler manages one goroutine per monitor and reacts to config changes.
type Scheduler struct {
	cfgMgr   ConfigSource
	analyzer *Analyzer
	region   model.Region

	mu       sync.Mutex
	running  map[string]*runningMonitor
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewScheduler creates a new Scheduler probing from region.
func NewScheduler(cfgMgr ConfigSource, analyzer *Analyzer, region model.Region) *Scheduler {
	return &Scheduler{
		cfgMgr:   cfgMgr,
		analyzer: analyzer,
		region:   region,
		running:  make(map[string]*runningMonitor),
		stopCh:   make(chan struct{}),
	}
}

// Start launches monitor goroutines and listens for config changes.
func (s *Scheduler) Start() {
	onChange := s.cfgMgr.Subscribe()
	s.syncMonitors(s.cfgMgr.Get())

	s.wg.Add(1)
	go s.watchChanges(onChange)
}

// Stop cancels all monitor goroutines and waits for them to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		for id, rm := range s.running {
			rm.cancel()
			delete(s.running, id)
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
}

// Running returns the ids of the monitors currently being probed.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) watchChanges(onChange <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-onChange:
			slog.Info("config changed, syncing monitors")
			s.syncMonitors(s.cfgMgr.Get())
		}
	}
}

// syncMonitors diffs running goroutines against config and starts/stops as needed.
func (s *Scheduler) syncMonitors(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return
	default:
	}

	desired := make(map[string]config.Monitor)
	for _, m := range cfg.Monitors {
		if m.IsEnabled() && s.runsHere(m) {
			desired[m.ID] = m
		}
	}

	// Stop monitors removed or changed
	for id, rm := range s.running {
		dm, ok := desired[id]
		if !ok {
			slog.Info("stopping removed monitor", "id", id)
			rm.cancel()
			delete(s.running, id)
			s.analyzer.RemoveState(id)
		} else if !reflect.DeepEqual(rm.cfg, dm) {
			slog.Info("restarting changed monitor", "id", id)
			rm.cancel()
			delete(s.running, id)
		}
	}

	// Start new or restarted monitors
	for id, m := range desired {
		if _, ok := s.running[id]; !ok {
			s.startMonitor(m, cfg.Checker.DegradedAfter)
		}
	}
}

// runsHere reports whether m is probed from the scheduler's region. An empty
// region list means every region.
func (s *Scheduler) runsHere(m config.Monitor) bool {
	if len(m.Regions) == 0 {
		return true
	}
	for _, r := range m.Regions {
		if region, err := model.ParseRegion(r); err == nil && region == s.region {
			return true
		}
	}
	return false
}

func (s *Scheduler) startMonitor(m config.Monitor, degradedAfter time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.running[m.ID] = &runningMonitor{cancel: cancel, cfg: m}

	prober := NewProber(m.Type, m.Method, m.IgnoreTLS, degradedAfter)
	s.wg.Add(1)
	go s.run(ctx, m, prober)
}

// run probes m immediately and then on every tick until ctx ends. While the
// target is failing the shorter retry interval is used.
func (s *Scheduler) run(ctx context.Context, m config.Monitor, prober Prober) {
	defer s.wg.Done()

	normal := time.Duration(m.Interval) * time.Second
	if normal <= 0 {
		normal = time.Minute
	}
	retry := normal
	if m.RetryInterval > 0 && m.RetryInterval < m.Interval {
		retry = time.Duration(m.RetryInterval) * time.Second
	}
	next := func(ar AnalyzeResult) time.Duration {
		if ar.IsFailing {
			return retry
		}
		return normal
	}

	slog.Info("monitor started", "id", m.ID, "name", m.Name, "type", m.Type, "region", s.region, "interval", normal)

	timer := time.NewTimer(next(s.runProbe(ctx, prober, m)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped", "id", m.ID, "name", m.Name)
			return
		case <-timer.C:
			timer.Reset(next(s.runProbe(ctx, prober, m)))
		}
	}
}

func (s *Scheduler) runProbe(ctx context.Context, prober Prober, m config.Monitor) AnalyzeResult {
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(m.Timeout)*time.Second)
	result := prober.Probe(probeCtx, m.Target)
	cancel()

	if ctx.Err() != nil {
		return AnalyzeResult{IsFailing: !result.Up()}
	}
	return s.analyzer.Process(ctx, m, result)
}
