package qseek

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/qseek/qseek/model"
)

// DetectionConsumer is the out-of-scope post-processor collaborator
// (§1 Out of scope: "magnitude and feature post-processors"). The
// controller dispatches finalized detections to every registered
// consumer under bounded concurrency (§4.8).
type DetectionConsumer interface {
	Consume(ctx context.Context, d model.Detection) error
}

// DetectionStore is the append-only container for emitted events (§2
// component 9, §3 Lifecycles: "Detections are append-only; once emitted
// they are never mutated by the core"). It also retains the per-window
// S_max semblance trace history for progress/diagnostics.
type DetectionStore struct {
	mu         sync.Mutex
	detections []StoredDetection
	semblance  []SemblanceRecord
}

// StoredDetection pairs a Detection with a stable, generated identity.
type StoredDetection struct {
	ID        string           `json:"id"`
	Detection model.Detection `json:"detection"`
}

// SemblanceRecord is one window's maximum-over-nodes semblance trace,
// retained for the live views / stats collaborator.
type SemblanceRecord struct {
	Start        float64   `json:"start"`
	SamplingRate float64   `json:"sampling_rate"`
	Trace        []float64 `json:"trace"`
}

// NewDetectionStore constructs an empty store.
func NewDetectionStore() *DetectionStore {
	return &DetectionStore{}
}

// Append records every detection from one window, in the order supplied.
// The caller is responsible for ensuring ascending time within a window
// (invariant 5); this method does not reorder.
func (s *DetectionStore) Append(detections []model.Detection) []StoredDetection {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]StoredDetection, 0, len(detections))
	for _, d := range detections {
		sd := StoredDetection{ID: uuid.NewString(), Detection: d}
		s.detections = append(s.detections, sd)
		stored = append(stored, sd)
	}
	return stored
}

// AppendSemblance retains a window's S_max trace history.
func (s *DetectionStore) AppendSemblance(start, samplingRate float64, trace []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.semblance = append(s.semblance, SemblanceRecord{Start: start, SamplingRate: samplingRate, Trace: trace})
}

// All returns every detection recorded so far, in emission order.
func (s *DetectionStore) All() []StoredDetection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredDetection, len(s.detections))
	copy(out, s.detections)
	return out
}

// Len reports the number of detections recorded so far.
func (s *DetectionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.detections)
}
