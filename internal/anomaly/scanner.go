package anomaly

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"benchguard.io/internal/obs"
)

// Result pairs a scan report with its summary.
type Result struct {
	Report  Report  `json:"report"`
	Summary Summary `json:"summary"`
}

// Scanner collects a snapshot from its sources, scans it and summarizes the
// flags. It holds no state between runs.
type Scanner struct {
	detector *Detector
	sources  Sources
	now      func() time.Time
	tracer   trace.Tracer
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScanClock overrides the time source.
func WithScanClock(fn func() time.Time) ScannerOption {
	return func(s *Scanner) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewScanner(d *Detector, sources Sources, opts ...ScannerOption) *Scanner {
	if d == nil {
		d = NewDetector(DefaultThresholds())
	}
	s := &Scanner{detector: d, sources: sources, now: time.Now, tracer: obs.Tracer("benchguard/anomaly")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detector returns the detector the scanner runs.
func (s *Scanner) Detector() *Detector { return s.detector }

// Run performs one scan.
func (s *Scanner) Run(ctx context.Context) Result {
	ctx, span := s.tracer.Start(ctx, "anomaly.scan")
	defer span.End()

	start := time.Now()
	now := s.now().UTC()
	in := s.sources.Collect(ctx, now)
	rep := s.detector.ScanReport(in)
	sum := Summarize(rep.Flags, now)
	obs.ObserveScan(time.Since(start))
	for _, f := range rep.Flags {
		obs.ObserveFlag(string(f.Detector), string(f.Risk))
	}
	span.SetAttributes(
		attribute.Int("anomaly.flags", len(rep.Flags)),
		attribute.Int("anomaly.skipped", len(rep.Skipped)),
		attribute.Int("anomaly.critical_24h", sum.Critical24h),
	)
	return Result{Report: rep, Summary: sum}
}
