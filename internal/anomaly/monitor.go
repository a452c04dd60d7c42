package anomaly

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"benchguard.io/internal/obs"
	"benchguard.io/internal/stream"
)

// MonitorTopic is the broker topic periodic results are published on.
const MonitorTopic = "anomalies"

// Monitor re-runs a scanner on an interval and publishes each result.
type Monitor struct {
	scanner  *Scanner
	interval time.Duration
	events   *stream.Broker[Result]

	mu     sync.RWMutex
	latest *Result
}

func NewMonitor(scanner *Scanner, interval time.Duration, events *stream.Broker[Result]) *Monitor {
	if events == nil {
		events = stream.NewBroker[Result](0)
	}
	return &Monitor{scanner: scanner, interval: interval, events: events}
}

// Events exposes the broker results are published on.
func (m *Monitor) Events() *stream.Broker[Result] { return m.events }

// Latest returns the most recent result, if any scan has completed.
func (m *Monitor) Latest() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Result{}, false
	}
	return *m.latest, true
}

// Tick runs one scan, stores and publishes the result.
func (m *Monitor) Tick(ctx context.Context) Result {
	res := m.scanner.Run(ctx)
	m.mu.Lock()
	m.latest = &res
	m.mu.Unlock()
	m.events.Publish(MonitorTopic, res)
	obs.Logger().Info("anomaly scan complete",
		zap.Int("flags", len(res.Report.Flags)),
		zap.Int("skipped", len(res.Report.Skipped)),
		zap.Int("critical_24h", res.Summary.Critical24h),
		zap.String("most_common", res.Summary.MostCommonType),
	)
	return res
}

// Run scans immediately and then every interval until ctx is done. A
// non-positive interval disables the loop.
func (m *Monitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	m.Tick(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
