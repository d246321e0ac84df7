package qseek

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/qseek/qseek/model"
	"github.com/qseek/qseek/traveltime"
)

// defaultPostDetectionConcurrency is the post-detection semaphore cap
// (§4.8: "concurrency cap, default 8").
const defaultPostDetectionConcurrency = 8

// Search is the streaming controller (§4.8, §2 component 8): it prepares
// travel-time tables, iterates batches from the waveform provider,
// drives one frameEngine per batch, and dispatches detections to
// post-processors under bounded concurrency.
type Search struct {
	Config   Configuration
	Octree   *model.Octree
	Stations *model.Stations
	Tables   map[string]traveltime.Table
	Weights  *StationWeights

	Provider   WaveformProvider
	ImageFuncs []ImageFunction
	Consumers  []DetectionConsumer

	RunDir *RunDir
	Stats  *Stats
	Store  *DetectionStore

	// ConcurrencyCap bounds post-detection dispatch; 0 selects
	// defaultPostDetectionConcurrency.
	ConcurrencyCap int

	logger *log.Logger
}

// NewSearch wires together a fully-constructed Search, ready for Prepare
// then Run.
func NewSearch(cfg Configuration, octree *model.Octree, stations *model.Stations, tables map[string]traveltime.Table, provider WaveformProvider, imageFuncs []ImageFunction, consumers []DetectionConsumer, rundir *RunDir, logWriter *log.Logger) *Search {
	return &Search{
		Config:     cfg,
		Octree:     octree,
		Stations:   stations,
		Tables:     tables,
		Provider:   provider,
		ImageFuncs: imageFuncs,
		Consumers:  consumers,
		RunDir:     rundir,
		Stats:      NewStats(4),
		Store:      NewDetectionStore(),
		logger:     logWriter,
	}
}

// Prepare readies every travel-time table against the configured octree
// and stations, derives window_padding from the resulting shift range and
// the configured image blindings, and validates the configuration
// (§4.8, §8 invariant 6).
func (s *Search) Prepare(ctx context.Context) error {
	for phase, table := range s.Tables {
		if err := table.Prepare(s.Octree, s.Stations); err != nil {
			return errors.Join(ErrData, errors.New("preparing table for phase "+phase), err)
		}
	}

	shiftRange := s.shiftRange()
	imageBlinding := 0.0
	for _, cfg := range s.Config.ImageFunctions {
		imageBlinding = math.Max(imageBlinding, cfg.Blinding)
	}

	if err := s.Config.Validate(shiftRange, imageBlinding); err != nil {
		return err
	}
	return nil
}

// shiftRange is the maximum minus minimum travel time across all phases
// and the coarse (un-split) octree template, per §4.8.
func (s *Search) shiftRange() float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for phase, table := range s.Tables {
		tt, err := table.GetTravelTimes(basePhase(phase), s.Octree, s.Stations)
		if err != nil {
			continue
		}
		for _, v := range tt {
			if math.IsNaN(v) {
				continue
			}
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return max - min
}

// Run executes the steady-state streaming loop (§4.8) starting from the
// run directory's persisted progress, honoring cooperative cancellation
// between batches.
func (s *Search) Run(ctx context.Context) error {
	progress, err := s.RunDir.LoadProgress()
	if err != nil {
		return errors.Join(ErrIO, err)
	}
	from := timeToSeconds(progress.TimeProgress)

	batches, errs := s.Provider.IterBatches(ctx, s.Config.WindowLength, s.Config.WindowPadding, from)

	cap := s.ConcurrencyCap
	if cap <= 0 {
		cap = defaultPostDetectionConcurrency
	}
	sem := make(chan struct{}, cap)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ErrCancelled

		case err, ok := <-errs:
			if ok && err != nil {
				return errors.Join(ErrData, err)
			}

		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			depth := len(batches)
			s.Stats.SetQueueDepth(depth)
			if depth == 0 {
				s.logf("prefetch queue empty: waveform prefetching is the bottleneck")
			}
			if err := s.processBatch(ctx, batch, sem, &wg); err != nil {
				return err
			}
		}
	}
}

func (s *Search) processBatch(ctx context.Context, batch Batch, sem chan struct{}, wg *sync.WaitGroup) error {
	started := time.Now()

	if emptyBatch(batch) {
		s.Stats.RecordEmptyBatch()
		s.logf("empty batch %v-%v, skipping", batch.Start, batch.End)
		return s.advanceProgress(batch.End)
	}

	images, err := s.buildImages(batch)
	if err != nil {
		return errors.Join(ErrData, err)
	}

	frame := newFrameEngine(s, images, batch.Start, batch.End)
	detections, maxTrace, err := frame.run(ctx)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return err
		}
		return err
	}

	s.Store.AppendSemblance(batch.Start, s.Config.SamplingRate, maxTrace)

	if len(detections) > 0 {
		stored := s.Store.Append(detections)
		s.dispatch(ctx, stored, sem, wg)
	}

	s.Stats.Update(time.Since(started), batch.End, 0, len(detections))
	return s.advanceProgress(batch.End)
}

func (s *Search) advanceProgress(t float64) error {
	err := s.RunDir.SaveProgress(secondsToTime(t))
	if err != nil {
		s.logf("saving progress failed, retrying once: %v", err)
		err = s.RunDir.SaveProgress(secondsToTime(t))
	}
	if err != nil {
		return errors.Join(ErrIO, err)
	}
	return nil
}

func (s *Search) buildImages(batch Batch) (WaveformImages, error) {
	images := make([]Image, 0, len(s.ImageFuncs))
	for _, fn := range s.ImageFuncs {
		img, err := fn.Process(batch)
		if err != nil {
			return WaveformImages{}, err
		}
		images = append(images, img)
	}
	return WaveformImages{Images: images}, nil
}

// dispatch fans detections out to every registered consumer under the
// bounded post-detection semaphore (§4.8, §5 suspension points).
func (s *Search) dispatch(ctx context.Context, detections []StoredDetection, sem chan struct{}, wg *sync.WaitGroup) {
	for _, d := range detections {
		for _, consumer := range s.Consumers {
			d, consumer := d, consumer
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := consumer.Consume(ctx, d.Detection); err != nil {
					s.logf("detection consumer error: %v", err)
				}
			}()
		}
	}
}

func (s *Search) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// emptyBatch reports whether a batch carries zero finite samples across
// every trace (§7 EmptyBatch).
func emptyBatch(b Batch) bool {
	return lo.EveryBy(b.Traces, func(t Trace) bool {
		for _, v := range t.Data {
			if !math.IsNaN(v) {
				return false
			}
		}
		return true
	})
}

func timeToSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func secondsToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9)).UTC()
}
