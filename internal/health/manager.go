// Package health runs periodic checks on the host and the relay and
// publishes a heartbeat on the event bus.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/config"
	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/util"
)

// Thresholds above which a host resource is reported as degraded.
const (
	MemoryWarnPercent = 90.0
	CPUWarnPercent    = 95.0
	DiskWarnPercent   = 90.0
)

// SessionSource reports the number of active relay sessions.
type SessionSource interface {
	Count() int
}

// Status is the outcome of the latest run of every check.
type Status struct {
	Healthy        bool                 `json:"healthy"`
	StartedAt      time.Time            `json:"started_at"`
	Uptime         string               `json:"uptime"`
	ActiveSessions int                  `json:"active_sessions"`
	PeakSessions   int                  `json:"peak_sessions"`
	Memory         *util.MemoryUsage    `json:"memory,omitempty"`
	CPUPercent     float64              `json:"cpu_percent"`
	Disk           *util.DiskUsage      `json:"disk,omitempty"`
	Warnings       map[string]string    `json:"warnings,omitempty"`
	LastRun        map[string]time.Time `json:"last_run"`
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions SessionSource

	startedAt time.Time

	// Probes, replaceable in tests.
	memoryUsage func() (*util.MemoryUsage, error)
	cpuUsage    func() (float64, error)
	diskUsage   func(path string) (*util.DiskUsage, error)

	mu       sync.RWMutex
	memory   *util.MemoryUsage
	cpu      float64
	disk     *util.DiskUsage
	peak     int
	warnings map[string]string
	lastRun  map[string]time.Time
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, sessions SessionSource) *Manager {
	return &Manager{
		cfg:         cfg,
		eventBus:    eventBus,
		sessions:    sessions,
		startedAt:   time.Now(),
		memoryUsage: util.GetMemoryUsage,
		cpuUsage:    util.GetCPUUsage,
		diskUsage:   util.GetDiskUsage,
		warnings:    make(map[string]string),
		lastRun:     make(map[string]time.Time),
	}
}

type check struct {
	name     string
	interval int
	fn       func(context.Context)
}

func (m *Manager) checks() []check {
	timers := m.cfg.GetApplicationData().Timers
	return []check{
		{"general_health", timers.GeneralHealthInterval, m.checkGeneralHealth},
		{"disk_utilization", timers.GeneralHealthInterval, m.checkDiskUtilization},
		{"session_report", timers.SessionReportInterval, m.reportSessions},
	}
}

// Start launches every check on its own ticker and blocks until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := m.checks()

	var wg sync.WaitGroup
	for _, c := range checks {
		c := c
		if c.interval <= 0 {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(time.Duration(c.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", c.name).Msg("running initial health check")
			m.run(ctx, c)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.run(ctx, c)
				}
			}
		}()
	}

	if interval := m.cfg.GetApplicationData().Timers.HeartbeatInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.heartbeatLoop(ctx, time.Duration(interval)*time.Second)
		}()
	}

	log.Info().Int("checks", len(checks)).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

// RunAll runs every check once.
func (m *Manager) RunAll(ctx context.Context) {
	for _, c := range m.checks() {
		m.run(ctx, c)
	}
}

func (m *Manager) run(ctx context.Context, c check) {
	c.fn(ctx)
	m.mu.Lock()
	m.lastRun[c.name] = time.Now()
	m.mu.Unlock()
}

func (m *Manager) setWarning(name, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message == "" {
		delete(m.warnings, name)
		return
	}
	if m.warnings[name] != message {
		log.Warn().Str("check", name).Msg(message)
	}
	m.warnings[name] = message
}

// checkGeneralHealth samples host memory and CPU.
func (m *Manager) checkGeneralHealth(ctx context.Context) {
	mem, err := m.memoryUsage()
	if err != nil {
		log.Warn().Err(err).Msg("memory check failed")
	}
	cpu, err := m.cpuUsage()
	if err != nil {
		log.Warn().Err(err).Msg("CPU check failed")
	}

	m.mu.Lock()
	if mem != nil {
		m.memory = mem
	}
	m.cpu = cpu
	m.mu.Unlock()

	if mem != nil && mem.UsedPercent >= MemoryWarnPercent {
		m.setWarning("memory", fmt.Sprintf("memory usage at %.1f%%", mem.UsedPercent))
	} else {
		m.setWarning("memory", "")
	}

	if cpu >= CPUWarnPercent {
		m.setWarning("cpu", fmt.Sprintf("CPU usage at %.1f%%", cpu))
	} else {
		m.setWarning("cpu", "")
	}

	log.Debug().
		Float64("cpu_percent", cpu).
		Int("active_sessions", m.sessions.Count()).
		Msg("general health")
}

// checkDiskUtilization watches the volume holding the session database.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	app := m.cfg.GetApplicationData()
	path := app.Logging.Directory
	if app.Database.Enabled {
		path = filepath.Dir(app.Database.Path)
	}
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return
	}

	m.mu.Lock()
	m.disk = usage
	m.mu.Unlock()

	if usage.UsedPercent >= DiskWarnPercent {
		m.setWarning("disk", fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
			usage.UsedPercent, usage.Free, usage.Total))
	} else {
		m.setWarning("disk", "")
	}
}

// reportSessions logs the active session count and tracks the peak.
func (m *Manager) reportSessions(ctx context.Context) {
	count := m.sessions.Count()

	m.mu.Lock()
	if count > m.peak {
		m.peak = count
	}
	peak := m.peak
	m.mu.Unlock()

	log.Info().
		Int("active_sessions", count).
		Int("peak_sessions", peak).
		Str("uptime", m.uptime().String()).
		Msg("session report")
}

func (m *Manager) uptime() time.Duration {
	return time.Since(m.startedAt).Truncate(time.Second)
}

// Status returns the latest results.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	warnings := make(map[string]string, len(m.warnings))
	for k, v := range m.warnings {
		warnings[k] = v
	}
	lastRun := make(map[string]time.Time, len(m.lastRun))
	for k, v := range m.lastRun {
		lastRun[k] = v
	}

	count := m.sessions.Count()
	peak := m.peak
	if count > peak {
		peak = count
	}

	return Status{
		Healthy:        len(warnings) == 0,
		StartedAt:      m.startedAt,
		Uptime:         m.uptime().String(),
		ActiveSessions: count,
		PeakSessions:   peak,
		Memory:         m.memory,
		CPUPercent:     m.cpu,
		Disk:           m.disk,
		Warnings:       warnings,
		LastRun:        lastRun,
	}
}

// Heartbeat builds the payload published on every heartbeat tick.
func (m *Manager) Heartbeat() events.HeartbeatPayload {
	status := m.Status()
	p := events.HeartbeatPayload{
		ActiveSessions: status.ActiveSessions,
		Uptime:         status.Uptime,
		CPUPct:         status.CPUPercent,
		Timestamp:      time.Now(),
	}
	if status.Memory != nil {
		p.MemoryUsedPct = status.Memory.UsedPercent
	}
	return p
}

// heartbeatLoop publishes a heartbeat event every interval.
func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.eventBus.Emit(ctx, events.Event{
				Type:    events.EventHeartbeat,
				Source:  "health_check",
				Payload: m.Heartbeat(),
			})
		}
	}
}
