// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single pipeline stage.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents the pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Classify      *OperationSnapshot
	Normalize     *OperationSnapshot
	Upload        *OperationSnapshot
	Finalize      *OperationSnapshot

	Processed int64
	Failed    int64
	Fallback  int64
	Stuck     int64
	Skipped   int64
	Replaced  int64
}

// Stage names for the collector.
const (
	OpClassify  = "classify"
	OpNormalize = "normalize"
	OpUpload    = "upload"
	OpFinalize  = "finalize"
)

// Outcome counter names.
const (
	CountProcessed = "processed"
	CountFailed    = "failed"
	CountFallback  = "fallback"
	CountStuck     = "stuck"
	CountSkipped   = "skipped"
	CountReplaced  = "replaced"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counts    map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counts:    make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Time runs fn and records its duration under op.
func (c *Collector) Time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.RecordTiming(op, time.Since(start))
	return err
}

// Inc increments an outcome counter.
func (c *Collector) Inc(name string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Classify:      snapshotOp(c.ops[OpClassify]),
		Normalize:     snapshotOp(c.ops[OpNormalize]),
		Upload:        snapshotOp(c.ops[OpUpload]),
		Finalize:      snapshotOp(c.ops[OpFinalize]),
		Processed:     c.counts[CountProcessed],
		Failed:        c.counts[CountFailed],
		Fallback:      c.counts[CountFallback],
		Stuck:         c.counts[CountStuck],
		Skipped:       c.counts[CountSkipped],
		Replaced:      c.counts[CountReplaced],
	}
}

// LogValue renders the snapshot as a compact slog group.
func (s Snapshot) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("processed", s.Processed),
		slog.Int64("failed", s.Failed),
		slog.Int64("fallback", s.Fallback),
		slog.Int64("stuck", s.Stuck),
		slog.Int64("skipped", s.Skipped),
		slog.Int64("replaced", s.Replaced),
		slog.Float64("uptime_s", math.Round(s.UptimeSeconds)),
	}
	for _, op := range []struct {
		name string
		snap *OperationSnapshot
	}{
		{OpClassify, s.Classify},
		{OpNormalize, s.Normalize},
		{OpUpload, s.Upload},
		{OpFinalize, s.Finalize},
	} {
		if op.snap == nil {
			continue
		}
		attrs = append(attrs, slog.Group(op.name,
			"count", op.snap.Count,
			"avg_ms", op.snap.AvgTimeMs,
			"max_ms", op.snap.MaxTimeMs,
		))
	}
	return slog.GroupValue(attrs...)
}
