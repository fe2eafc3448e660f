package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time resource sample of the uploader child.
type Stats struct {
	PID            int32         `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	StartedAt      time.Time     `json:"started_at"`
	Uptime         time.Duration `json:"uptime"`
	LastSampled    time.Time     `json:"last_sampled"`
}

// monitor samples CPU and memory usage of a child process once per second.
type monitor struct {
	proc      *process.Process
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newMonitor(pid int) *monitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &monitor{
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.stats.PID = int32(pid)
	m.stats.StartedAt = m.startedAt

	// A lookup failure leaves proc nil; sampling then no-ops and Stats
	// reports only PID and uptime.
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		m.proc = proc
	}

	return m
}

func (m *monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Stats returns the most recent sample.
func (m *monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.Uptime = time.Since(m.startedAt)
	return stats
}

func (m *monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *monitor) sample() {
	if m.proc == nil {
		return
	}

	cpu, cpuErr := m.proc.Percent(0)
	mem, memErr := m.proc.MemoryInfo()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cpuErr == nil {
		m.stats.CPUPercent = cpu
	}
	if memErr == nil && mem != nil {
		m.stats.MemoryRSSBytes = mem.RSS
	}
	m.stats.LastSampled = time.Now()
}
