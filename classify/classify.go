// Package classify orchestrates the per-request pipeline: admission,
// feature extraction, and scoring. Extraction and scoring are
// CPU-bound and non-preemptible, so they run on a bounded worker pool
// whose capacity is the sole admission-control mechanism; a saturated
// pool rejects instead of queueing.
package classify

import (
	"context"
	"errors"
	"sync/atomic"

	"pescan/feature"
	"pescan/fuzzy"
	"pescan/hasher"
	"pescan/ingest"
	"pescan/logger"
	"pescan/model"
)

var (
	// ErrBusy reports worker-pool saturation. The request was not
	// started; the caller may retry later.
	ErrBusy = errors.New("all scan workers are busy")
	// ErrTimeout reports that the per-request ceiling elapsed before
	// the pipeline finished.
	ErrTimeout = errors.New("scan timed out")
	// ErrCanceled reports that the client went away before the
	// pipeline finished.
	ErrCanceled = errors.New("scan canceled")
)

// Result is a completed classification. It has no lifecycle beyond
// the response it is embedded in.
type Result struct {
	Label         model.Label
	Confidence    float64
	SchemaVersion int
	Digest        string
	Digests       map[string]string
	SniffedType   string
	TLSH          string
	Notes         []string
}

// Allowlister reports whether a digest belongs to a known-benign file.
type Allowlister interface {
	ContainsHex(digest string) bool
}

// Scorer maps a feature vector to the malicious-class probability and
// the derived label. *model.Artifact is the production implementation.
type Scorer interface {
	Score(v *feature.Vector) (float64, model.Label, error)
	SchemaVersion() int
	Name() string
}

// Service wires the pipeline stages together. The scorer is shared
// read-only across requests; the processed counter feeds the stall
// watchdog.
type Service struct {
	scorer      Scorer
	allow       Allowlister
	slots       chan struct{}
	maxUpload   int64
	hashAlgos   []string
	processed   atomic.Int64
	inFlightNow atomic.Int64
}

// Options configure a Service.
type Options struct {
	Workers        int
	MaxUploadBytes int64
	Allowlist      Allowlister
	HashAlgorithms []string
}

func New(scorer Scorer, opts Options) *Service {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		scorer:    scorer,
		allow:     opts.Allowlist,
		slots:     make(chan struct{}, workers),
		maxUpload: opts.MaxUploadBytes,
		hashAlgos: opts.HashAlgorithms,
	}
}

// ModelName reports the name of the loaded scoring model.
func (s *Service) ModelName() string {
	return s.scorer.Name()
}

// Processed reports the number of completed pipelines, successful or
// not.
func (s *Service) Processed() int64 {
	return s.processed.Load()
}

// InFlight reports the number of pipelines currently holding a worker
// slot.
func (s *Service) InFlight() int64 {
	return s.inFlightNow.Load()
}

// Workers reports the pool capacity.
func (s *Service) Workers() int {
	return cap(s.slots)
}

// Classify runs the full pipeline for one payload. Admission errors
// surface before a worker slot is taken; extraction is never invoked
// on over-limit input. The context bounds the request wall clock and
// carries client disconnects: when it fires first the result is
// abandoned, though the worker finishes its non-preemptible unit and
// frees the slot on its own.
func (s *Service) Classify(ctx context.Context, data []byte, declaredName string) (*Result, error) {
	input, err := ingest.Ingest(data, declaredName, s.maxUpload)
	if err != nil {
		return nil, err
	}

	if s.allow != nil && s.allow.ContainsHex(input.Digest) {
		logger.Debugf("Digest %s allowlisted, skipping extraction", input.Digest)
		return &Result{
			Label:         model.LabelBenign,
			Confidence:    0,
			SchemaVersion: s.scorer.SchemaVersion(),
			Digest:        input.Digest,
			SniffedType:   input.SniffedType,
			Notes:         []string{"digest allowlisted, extraction skipped"},
		}, nil
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		s.inFlightNow.Add(1)
		result, err := s.runPipeline(input)
		s.inFlightNow.Add(-1)
		s.processed.Add(1)
		<-s.slots
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrCanceled
	}
}

// runPipeline is the non-preemptible unit of work: extract, score,
// annotate. It owns input exclusively and drops it on return.
func (s *Service) runPipeline(input *ingest.BinaryInput) (*Result, error) {
	vector, err := feature.Extract(input.Data)
	if err != nil {
		return nil, err
	}

	probability, label, err := s.scorer.Score(vector)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Label:         label,
		Confidence:    probability,
		SchemaVersion: vector.Version,
		Digest:        input.Digest,
		SniffedType:   input.SniffedType,
	}
	if len(s.hashAlgos) > 0 {
		result.Digests = hasher.ComputeDigests(input.Data, s.hashAlgos)
	}
	if hash, err := fuzzy.Hash("tlsh", input.Data); err == nil {
		result.TLSH = hash
	}
	return result, nil
}
