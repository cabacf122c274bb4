// Package metrics provides lightweight, lock-minimal counters for the
// redaction engine.
//
// Counters use sync/atomic so the per-document hot path incurs no mutex
// contention. Latency statistics use a single mutex per dimension; they are
// updated at most once per document.
//
// All Record methods are safe on a nil *Metrics, so components can be built
// without metrics in tests and tools.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// otherLabel collects entities whose label was not registered in New.
const otherLabel = "OTHER"

// Document outcome names accepted by RecordDocument.
const (
	OutcomeRedacted    = "redacted"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Metrics holds all runtime counters for a running engine.
// The zero value is usable but counts every entity under OTHER; use New.
type Metrics struct {
	// Document counters
	DocumentsTotal       atomic.Int64
	DocumentsRedacted    atomic.Int64
	DocumentsUnavailable atomic.Int64 // passthrough: no detection capability
	DocumentsFailed      atomic.Int64 // passthrough or refusal after an error
	ZeroDetections       atomic.Int64 // redacted documents with no entities

	// Detection
	DetectErrors atomic.Int64
	CacheHits    atomic.Int64
	CacheMisses  atomic.Int64

	// Residual scan hits after redaction
	ResidualHits atomic.Int64

	// Per-label entity counters.
	// The map is written only in New(); concurrent reads are safe without a lock.
	entities      map[string]*atomic.Int64
	otherEntities atomic.Int64

	redactMu   sync.Mutex
	redactStat latencyStats

	detectMu   sync.Mutex
	detectStat latencyStats

	rewriteMu   sync.Mutex
	rewriteStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and per-label
// counters pre-populated for labels.
func New(labels ...string) *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		entities:  make(map[string]*atomic.Int64, len(labels)),
	}
	for _, l := range labels {
		m.entities[l] = new(atomic.Int64)
	}
	return m
}

// RecordDocument counts one document by outcome.
func (m *Metrics) RecordDocument(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.Add(1)
	switch outcome {
	case OutcomeRedacted:
		m.DocumentsRedacted.Add(1)
	case OutcomeUnavailable:
		m.DocumentsUnavailable.Add(1)
	case OutcomeFailed:
		m.DocumentsFailed.Add(1)
	}
}

// RecordEntities adds n entities under label. Unregistered labels count as OTHER.
func (m *Metrics) RecordEntities(label string, n int) {
	if m == nil {
		return
	}
	if c, ok := m.entities[label]; ok {
		c.Add(int64(n))
		return
	}
	m.otherEntities.Add(int64(n))
}

// RecordZeroDetections counts a redacted document that produced no entities.
func (m *Metrics) RecordZeroDetections() {
	if m == nil {
		return
	}
	m.ZeroDetections.Add(1)
}

// RecordDetectError counts a detector failure.
func (m *Metrics) RecordDetectError() {
	if m == nil {
		return
	}
	m.DetectErrors.Add(1)
}

// RecordCacheHit counts a detection-cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Add(1)
}

// RecordCacheMiss counts a detection-cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Add(1)
}

// RecordResidual adds n residual hits found after redaction.
func (m *Metrics) RecordResidual(n int) {
	if m == nil {
		return
	}
	m.ResidualHits.Add(int64(n))
}

// RecordRedactLatency records the duration of one full redaction.
func (m *Metrics) RecordRedactLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.redactMu.Lock()
	m.redactStat.record(toMs(d))
	m.redactMu.Unlock()
}

// RecordDetectLatency records the duration of one detector call.
func (m *Metrics) RecordDetectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.detectMu.Lock()
	m.detectStat.record(toMs(d))
	m.detectMu.Unlock()
}

// RecordRewriteLatency records arbitration plus rewriting time.
func (m *Metrics) RecordRewriteLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.rewriteMu.Lock()
	m.rewriteStat.record(toMs(d))
	m.rewriteMu.Unlock()
}

func toMs(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.redactMu.Lock()
	redact := m.redactStat.snapshot()
	m.redactMu.Unlock()

	m.detectMu.Lock()
	detect := m.detectStat.snapshot()
	m.detectMu.Unlock()

	m.rewriteMu.Lock()
	rewrite := m.rewriteStat.snapshot()
	m.rewriteMu.Unlock()

	byLabel := make(map[string]int64, len(m.entities)+1)
	var total int64
	for l, c := range m.entities {
		if n := c.Load(); n > 0 {
			byLabel[l] = n
			total += n
		}
	}
	if n := m.otherEntities.Load(); n > 0 {
		byLabel[otherLabel] = n
		total += n
	}

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Documents: DocumentSnapshot{
			Total:          m.DocumentsTotal.Load(),
			Redacted:       m.DocumentsRedacted.Load(),
			Unavailable:    m.DocumentsUnavailable.Load(),
			Failed:         m.DocumentsFailed.Load(),
			ZeroDetections: m.ZeroDetections.Load(),
		},
		Entities: EntitySnapshot{
			Total:    total,
			ByLabel:  byLabel,
			Residual: m.ResidualHits.Load(),
		},
		Detection: DetectionSnapshot{
			Errors:      m.DetectErrors.Load(),
			CacheHits:   m.CacheHits.Load(),
			CacheMisses: m.CacheMisses.Load(),
		},
		Latency: LatencyGroup{
			RedactMs:  redact,
			DetectMs:  detect,
			RewriteMs: rewrite,
		},
		UptimeSecs: uptime,
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  DocumentSnapshot  `json:"documents"`
	Entities   EntitySnapshot    `json:"entities"`
	Detection  DetectionSnapshot `json:"detection"`
	Latency    LatencyGroup      `json:"latency"`
	UptimeSecs float64           `json:"uptimeSecs"`
}

// DocumentSnapshot holds document outcome counters.
type DocumentSnapshot struct {
	Total          int64 `json:"total"`
	Redacted       int64 `json:"redacted"`
	Unavailable    int64 `json:"unavailable"`
	Failed         int64 `json:"failed"`
	ZeroDetections int64 `json:"zeroDetections"`
}

// EntitySnapshot holds entity volume counters.
type EntitySnapshot struct {
	Total int64 `json:"total"`
	// Per-label counts (only labels with non-zero counts appear).
	ByLabel  map[string]int64 `json:"byLabel,omitempty"`
	Residual int64            `json:"residual"`
}

// DetectionSnapshot holds detector and detection-cache counters.
type DetectionSnapshot struct {
	Errors      int64 `json:"errors"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
}

// LatencyGroup groups the latency dimensions.
type LatencyGroup struct {
	RedactMs  LatencySnapshot `json:"redactMs"`
	DetectMs  LatencySnapshot `json:"detectMs"`
	RewriteMs LatencySnapshot `json:"rewriteMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
