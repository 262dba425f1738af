package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/launchpad/internal/syncutil"
)

// ResourceSample is one CPU/memory reading of a running entry's child.
type ResourceSample struct {
	EntryID    string    `json:"entry_id"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ResourceCollector periodically samples the children of running entries.
// Samples for entries that are no longer running are dropped on the next pass.
type ResourceCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int
	clock      clockwork.Clock

	mu      syncutil.RWMutex
	history map[string][]ResourceSample
	procs   map[int]*process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     *prometheus.GaugeVec
	memory  *prometheus.GaugeVec
	threads *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 60
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		clock:      clockwork.NewRealClock(),
		history:    make(map[string][]ResourceSample),
		procs:      make(map[int]*process.Process),
		stopCh:     make(chan struct{}),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "entry",
			Name:      "cpu_percent",
			Help:      "CPU usage of a running entry's child process.",
		}, []string{"entry"}),
		memory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "entry",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of a running entry's child process.",
		}, []string{"entry"}),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "entry",
			Name:      "threads",
			Help:      "Thread count of a running entry's child process.",
		}, []string{"entry"}),
	}
}

// SetClock replaces the ticker source; used by tests.
func (c *ResourceCollector) SetClock(clock clockwork.Clock) { c.clock = clock }

func (c *ResourceCollector) Enabled() bool { return c != nil && c.enabled }

func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.Enabled() {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpu, c.memory, c.threads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples source() every interval until ctx is done or Stop is called.
// source returns entry ID -> PID for every running entry.
func (c *ResourceCollector) Start(ctx context.Context, source func() map[string]int) {
	if !c.Enabled() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := c.clock.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.Chan():
				c.Collect(source())
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	if !c.Enabled() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample per running entry and forgets entries not in running.
func (c *ResourceCollector) Collect(running map[string]int) {
	now := c.clock.Now()
	samples := make(map[string]ResourceSample, len(running))
	for entryID, pid := range running {
		if pid <= 0 {
			continue
		}
		s, err := c.sample(entryID, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "entry", entryID, "pid", pid, "error", err)
			continue
		}
		samples[entryID] = s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for entryID, s := range samples {
		h := append(c.history[entryID], s)
		if len(h) > c.maxHistory {
			h = h[len(h)-c.maxHistory:]
		}
		c.history[entryID] = h
		c.cpu.WithLabelValues(entryID).Set(s.CPUPercent)
		c.memory.WithLabelValues(entryID).Set(float64(s.MemoryRSS))
		c.threads.WithLabelValues(entryID).Set(float64(s.NumThreads))
	}
	for entryID := range c.history {
		if _, ok := running[entryID]; !ok {
			delete(c.history, entryID)
			c.cpu.DeleteLabelValues(entryID)
			c.memory.DeleteLabelValues(entryID)
			c.threads.DeleteLabelValues(entryID)
		}
	}
	live := make(map[int]struct{}, len(running))
	for _, pid := range running {
		live[pid] = struct{}{}
	}
	for pid := range c.procs {
		if _, ok := live[pid]; !ok {
			delete(c.procs, pid)
		}
	}
}

func (c *ResourceCollector) sample(entryID string, pid int, now time.Time) (ResourceSample, error) {
	c.mu.Lock()
	proc, ok := c.procs[pid]
	c.mu.Unlock()
	if !ok {
		var err error
		proc, err = process.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
		if err != nil {
			return ResourceSample{}, fmt.Errorf("open process: %w", err)
		}
		c.mu.Lock()
		c.procs[pid] = proc
		c.mu.Unlock()
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("memory info: %w", err)
	}
	// CPUPercent needs a previous reading on the same handle to be meaningful;
	// the first sample of a run may be 0.
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	return ResourceSample{
		EntryID:    entryID,
		PID:        pid,
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  now,
	}, nil
}

// Latest returns the most recent sample for entryID.
func (c *ResourceCollector) Latest(entryID string) (ResourceSample, bool) {
	if !c.Enabled() {
		return ResourceSample{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[entryID]
	if len(h) == 0 {
		return ResourceSample{}, false
	}
	return h[len(h)-1], true
}

// History returns the retained samples for entryID, oldest first.
func (c *ResourceCollector) History(entryID string) []ResourceSample {
	if !c.Enabled() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ResourceSample(nil), c.history[entryID]...)
}
