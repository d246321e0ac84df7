package qseek

import (
	"context"

	"github.com/qseek/qseek/model"
)

// Trace is a single channel's sample series over [Start, Start+len(Data)/SamplingRate).
type Trace struct {
	NSL          model.NSL
	Start        float64
	SamplingRate float64
	Data         []float64
}

// End returns the trace's exclusive end time.
func (t Trace) End() float64 {
	return t.Start + float64(len(t.Data))/t.SamplingRate
}

// Batch is a chronologically ordered, padded slice of the waveform stream
// covering [Start, End) plus WindowPadding seconds of context on each side,
// one Trace per participating station channel.
type Batch struct {
	Start, End    float64
	WindowPadding float64
	Traces        []Trace
}

// WaveformProvider is the out-of-scope waveform ingestion collaborator
// (§1 Out of scope): it supplies chronologically ordered, padded batches.
// The core never constructs one; it is handed an implementation at
// Search construction time.
type WaveformProvider interface {
	// IterBatches streams batches of windowIncrement seconds (each padded
	// by windowPadding on both sides) starting at from, until ctx is
	// cancelled or the stream is exhausted. The returned channel is
	// closed when iteration ends; a provider must never deliver a batch
	// whose Start precedes a previously delivered batch's Start.
	IterBatches(ctx context.Context, windowIncrement, windowPadding, from float64) (<-chan Batch, <-chan error)
}
