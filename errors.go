package qseek

import (
	"errors"
)

// Error kinds as catalogued in the error handling design (§7): each is a
// distinct propagation policy, not just a distinct message. Octree and
// travel-time table error kinds live alongside their types in model and
// traveltime respectively.
var (
	// ErrConfig covers malformed configuration: bad octree bounds, a
	// duplicate phase id, a window shorter than its required padding.
	// Fatal at startup.
	ErrConfig = errors.New("qseek: configuration error")

	// ErrData covers missing inputs at prepare time: a station file that
	// can't be read, no waveforms available in the requested range.
	// Fatal at prepare.
	ErrData = errors.New("qseek: data error")

	// ErrEmptyBatch: a waveform batch carried zero finite samples.
	// Logged, counted, and skipped.
	ErrEmptyBatch = errors.New("qseek: empty batch")

	// ErrShortBatch: a waveform batch fell below the configured minimum
	// length. Logged, counted, and skipped.
	ErrShortBatch = errors.New("qseek: batch shorter than minimum length")

	// ErrCancelled signals cooperative cancellation between batches or
	// between refinement recursions.
	ErrCancelled = errors.New("qseek: search cancelled")

	// ErrIO covers failures persisting progress/detections: logged,
	// retried once, then fatal.
	ErrIO = errors.New("qseek: io error persisting run state")
)
