package diag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func dumpCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	count := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "pescan-stall-") {
			count++
		}
	}
	return count
}

func TestProbeDumpsOnStall(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	w := NewWatchdog(Options{
		StallThreshold: time.Second,
		Dir:            dir,
		ProgressFn:     func() int64 { return 5 },
		InFlightFn:     func() int64 { return 2 },
		NowFn:          func() time.Time { return now },
	})
	w.lastProgress = 5
	w.lastProgressAt = now.Add(-2 * time.Second)

	w.probe(now)

	if got := dumpCount(t, dir); got != 1 {
		t.Fatalf("stall dumps %d, expected 1", got)
	}
	profile, err := filepath.Glob(filepath.Join(dir, "pescan-goroutines-*.txt"))
	if err != nil || len(profile) != 1 {
		t.Fatalf("goroutine profiles %v, expected one", profile)
	}

	// A second probe inside the rate limit window stays quiet.
	w.probe(now.Add(100 * time.Millisecond))
	if got := dumpCount(t, dir); got != 1 {
		t.Fatalf("stall dumps %d after rate-limited probe, expected 1", got)
	}
}

func TestProbeIdleIsNotStall(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	w := NewWatchdog(Options{
		StallThreshold: time.Second,
		Dir:            dir,
		ProgressFn:     func() int64 { return 5 },
		InFlightFn:     func() int64 { return 0 },
		NowFn:          func() time.Time { return now },
	})
	w.lastProgress = 5
	w.lastProgressAt = now.Add(-time.Minute)

	w.probe(now)

	if got := dumpCount(t, dir); got != 0 {
		t.Fatalf("idle pool produced %d dumps", got)
	}
	if !w.lastProgressAt.Equal(now) {
		t.Fatal("idle probe should reset the progress clock")
	}
}

func TestProbeProgressResetsClock(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	progress := int64(5)

	w := NewWatchdog(Options{
		StallThreshold: time.Second,
		Dir:            dir,
		ProgressFn:     func() int64 { return progress },
		InFlightFn:     func() int64 { return 1 },
		NowFn:          func() time.Time { return now },
	})
	w.lastProgress = 4
	w.lastProgressAt = now.Add(-time.Minute)

	w.probe(now)

	if got := dumpCount(t, dir); got != 0 {
		t.Fatalf("progressing pool produced %d dumps", got)
	}
	if w.lastProgress != 5 || !w.lastProgressAt.Equal(now) {
		t.Fatalf("progress not recorded: %d at %v", w.lastProgress, w.lastProgressAt)
	}
}

func TestStartDisabledWithoutThreshold(t *testing.T) {
	w := NewWatchdog(Options{ProgressFn: func() int64 { return 0 }})
	w.Start(context.Background())
	if w.stopCh != nil {
		t.Fatal("watchdog started without a threshold")
	}
	w.Close()

	var nilWatchdog *Watchdog
	nilWatchdog.Start(context.Background())
	nilWatchdog.Close()
}

func TestStartAndClose(t *testing.T) {
	w := NewWatchdog(Options{
		StallThreshold: 50 * time.Millisecond,
		Dir:            t.TempDir(),
		ProgressFn:     func() int64 { return 0 },
		InFlightFn:     func() int64 { return 0 },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	time.Sleep(120 * time.Millisecond)
	w.Close()
}
