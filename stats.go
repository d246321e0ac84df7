package qseek

import (
	"sync"
	"time"
)

// Stats holds live counters for throughput, queue depth, and remaining
// time (§2 component 10), exposed through Snapshot and updated once per
// batch from the controller loop.
type Stats struct {
	mu sync.Mutex

	windowsProcessed int
	batchesEmpty     int
	batchesShort     int
	detectionsTotal  int

	firstUpdate  time.Time
	lastUpdate   time.Time
	elapsedTotal time.Duration

	queueDepth    int
	queueCapacity int

	timeProgress  float64
	timeRemaining float64 // seconds of stream remaining at update time
}

// NewStats constructs a zeroed Stats tracker with the given prefetch
// queue capacity (§5 back-pressure, default depth 4).
func NewStats(queueCapacity int) *Stats {
	return &Stats{queueCapacity: queueCapacity}
}

// Update records one batch's processing outcome: elapsed wall time for
// that batch, the new progress timestamp, how much stream time remains,
// and the number of detections it produced.
func (s *Stats) Update(elapsed time.Duration, timeProgress, timeRemaining float64, nDetections int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.firstUpdate.IsZero() {
		s.firstUpdate = now
	}
	s.lastUpdate = now
	s.elapsedTotal += elapsed
	s.windowsProcessed++
	s.detectionsTotal += nDetections
	s.timeProgress = timeProgress
	s.timeRemaining = timeRemaining
}

// RecordEmptyBatch counts a skipped, all-NaN batch (§7 EmptyBatch).
func (s *Stats) RecordEmptyBatch() {
	s.mu.Lock()
	s.batchesEmpty++
	s.mu.Unlock()
}

// RecordShortBatch counts a skipped below-minimum-length batch (§7 ShortBatch).
func (s *Stats) RecordShortBatch() {
	s.mu.Lock()
	s.batchesShort++
	s.mu.Unlock()
}

// SetQueueDepth records the prefetcher's current queue occupancy, used by
// the back-pressure warning (§5: "an empty queue triggers a warning").
func (s *Stats) SetQueueDepth(depth int) {
	s.mu.Lock()
	s.queueDepth = depth
	s.mu.Unlock()
}

// Snapshot is a point-in-time, immutable copy of the counters, safe to
// serialize or print.
type Snapshot struct {
	WindowsProcessed int
	BatchesEmpty     int
	BatchesShort     int
	DetectionsTotal  int
	WindowsPerSecond float64
	QueueDepth       int
	QueueCapacity    int
	TimeProgress     float64
	ETASeconds       float64
	Starved          bool
}

// Snapshot returns the current counters plus derived throughput and ETA.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wps, eta float64
	if s.elapsedTotal > 0 {
		wps = float64(s.windowsProcessed) / s.elapsedTotal.Seconds()
	}
	if wps > 0 && s.windowsProcessed > 0 {
		windowDuration := s.elapsedTotal.Seconds() / float64(s.windowsProcessed)
		remainingWindows := s.timeRemaining / windowDuration
		eta = remainingWindows / wps
	}

	return Snapshot{
		WindowsProcessed: s.windowsProcessed,
		BatchesEmpty:     s.batchesEmpty,
		BatchesShort:     s.batchesShort,
		DetectionsTotal:  s.detectionsTotal,
		WindowsPerSecond: wps,
		QueueDepth:       s.queueDepth,
		QueueCapacity:    s.queueCapacity,
		TimeProgress:     s.timeProgress,
		ETASeconds:       eta,
		Starved:          s.queueDepth == 0,
	}
}
