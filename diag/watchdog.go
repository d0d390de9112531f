// Package diag watches scan progress and dumps diagnostics when the
// pipeline stalls: a long-running extraction is expected for very
// large files, but zero progress across the whole pool for longer than
// the threshold usually means something is wedged.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"pescan/logger"
)

// Options configure a Watchdog. NowFn exists for tests.
type Options struct {
	StallThreshold time.Duration
	Dir            string
	ProgressFn     func() int64
	InFlightFn     func() int64
	NowFn          func() time.Time
}

type Watchdog struct {
	threshold  time.Duration
	dir        string
	progressFn func() int64
	inFlightFn func() int64
	nowFn      func() time.Time

	mu             sync.Mutex
	lastProgress   int64
	lastProgressAt time.Time
	lastDumpAt     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:  opts.StallThreshold,
		dir:        dir,
		progressFn: opts.ProgressFn,
		inFlightFn: opts.InFlightFn,
		nowFn:      nowFn,
	}
}

// Start begins periodic probing. It is a no-op without a positive
// threshold and a progress source.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progressFn == nil || w.stopCh != nil {
		return
	}

	now := w.nowFn()
	w.mu.Lock()
	w.lastProgress = w.progressFn()
	w.lastProgressAt = now
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	interval := w.threshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.probe(w.nowFn())
			}
		}
	}()
}

// Close stops probing and waits for the probe loop to exit.
func (w *Watchdog) Close() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

func (w *Watchdog) probe(now time.Time) {
	progress := w.progressFn()

	w.mu.Lock()
	if progress != w.lastProgress {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	// Idle is not a stall: without in-flight work there is nothing to
	// make progress.
	if w.inFlightFn != nil && w.inFlightFn() == 0 {
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	shouldDump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if shouldDump {
		w.lastDumpAt = now
	}
	w.mu.Unlock()

	if shouldDump {
		if err := w.dump(now, progress, stalledFor); err != nil {
			logger.Warnf("Diagnostics stall dump failed: %v", err)
		}
	}
}

func (w *Watchdog) dump(now time.Time, progress int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")

	event := map[string]interface{}{
		"event":               "scan_stall_threshold_exceeded",
		"timestamp":           now.UTC().Format(time.RFC3339Nano),
		"progress_count":      progress,
		"threshold_ms":        w.threshold.Milliseconds(),
		"observed_stalled_ms": stalledFor.Milliseconds(),
	}
	if w.inFlightFn != nil {
		event["in_flight"] = w.inFlightFn()
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	eventPath := filepath.Join(w.dir, fmt.Sprintf("pescan-stall-%s.json", ts))
	if err := os.WriteFile(eventPath, b, 0600); err != nil {
		return err
	}

	profilePath := filepath.Join(w.dir, fmt.Sprintf("pescan-goroutines-%s.txt", ts))
	f, err := os.OpenFile(profilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if profile := pprof.Lookup("goroutine"); profile != nil {
		if err := profile.WriteTo(f, 2); err != nil {
			return err
		}
	}
	logger.Warnf("Scan progress stalled for %s; diagnostics written to %s", stalledFor, w.dir)
	return nil
}
