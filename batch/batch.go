// Package batch classifies every matching file under a directory tree and
// writes an NDJSON report. It drives the same pipeline as the HTTP server,
// one worker per classification slot.
package batch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"pescan/classify"
	"pescan/config"
	"pescan/logger"
	"pescan/model"
	"pescan/output"
	"pescan/utils"
)

type fileTask struct {
	path string
	info os.FileInfo
}

type counters struct {
	seen       atomic.Int64
	classified atomic.Int64
	failed     atomic.Int64
	malicious  atomic.Int64
	benign     atomic.Int64
}

// Run walks cfg.BatchPath, classifies every included file and writes one
// record per file to cfg.BatchOutput. It returns once the walk and all
// workers have finished.
func Run(ctx context.Context, cfg *config.Config, svc *classify.Service, emitter *output.Emitter) error {
	matcher := utils.NewPatternMatcher(cfg.BatchIncludes, cfg.BatchExcludes)

	logger.Infof("Counting files under %s...", cfg.BatchPath)
	totalFiles, err := countFiles(ctx, cfg.BatchPath, matcher)
	if err != nil {
		return err
	}
	logger.Infof("Files to classify: %d", totalFiles)

	writer, err := output.New(cfg.BatchOutput, cfg.ModelPath, emitter)
	if err != nil {
		return err
	}
	defer writer.Close()

	bar := progressbar.NewOptions(totalFiles,
		progressbar.OptionSetDescription("Classifying files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionFullWidth(),
	)

	progressCh := make(chan int, maxInt(svc.Workers()*4, 64))
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		for delta := range progressCh {
			_ = bar.Add(delta)
		}
	}()

	var stats counters
	start := time.Now()

	filesChan := make(chan fileTask, svc.Workers())
	go func() {
		defer close(filesChan)
		err := filepath.WalkDir(cfg.BatchPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warnf("Failed to access %s: %v", path, err)
				return nil
			}
			if d == nil || d.IsDir() || !matcher.ShouldInclude(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				logger.Warnf("Failed to stat %s: %v", path, err)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case filesChan <- fileTask{path: path, info: info}:
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			logger.Warnf("Error walking %s: %v", cfg.BatchPath, err)
		}
	}()

	// One worker per classification slot keeps the pool saturated without
	// tripping the busy rejection the HTTP path relies on.
	var wg sync.WaitGroup
	for range svc.Workers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range filesChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				processFile(ctx, cfg, svc, writer, &stats, task)
				progressCh <- 1
			}
		}()
	}

	wg.Wait()
	close(progressCh)
	progressWG.Wait()

	writer.WriteMetrics(output.Metrics{
		StartTime:       start.UTC().Format(time.RFC3339),
		EndTime:         time.Now().UTC().Format(time.RFC3339),
		FilesSeen:       stats.seen.Load(),
		FilesClassified: stats.classified.Load(),
		FilesFailed:     stats.failed.Load(),
		Malicious:       stats.malicious.Load(),
		Benign:          stats.benign.Load(),
	})
	logger.Infof("Batch finished: %d classified, %d failed, %d malicious",
		stats.classified.Load(), stats.failed.Load(), stats.malicious.Load())
	return ctx.Err()
}

func processFile(ctx context.Context, cfg *config.Config, svc *classify.Service, writer *output.Writer, stats *counters, task fileTask) {
	stats.seen.Add(1)
	ts := fileTimes(task.path)
	record := output.Record{
		Path:         task.path,
		Size:         task.info.Size(),
		ModTime:      task.info.ModTime().Format(time.RFC3339),
		AccessTime:   ts.AccessTime,
		CreationTime: ts.CreationTime,
	}

	data, err := readFileContent(task.path, cfg.MaxUploadBytes, cfg.BatchMmapMinSize)
	if err != nil {
		stats.failed.Add(1)
		record.Error = err.Error()
		writer.WriteRecord(record)
		return
	}
	if data == nil {
		stats.failed.Add(1)
		record.Error = "file exceeds size limit"
		writer.WriteRecord(record)
		return
	}

	result, err := svc.Classify(ctx, data, filepath.Base(task.path))
	if err != nil {
		stats.failed.Add(1)
		record.Error = err.Error()
		writer.WriteRecord(record)
		return
	}

	stats.classified.Add(1)
	if result.Label == model.LabelMalicious {
		stats.malicious.Add(1)
	} else {
		stats.benign.Add(1)
	}
	record.Label = string(result.Label)
	record.Confidence = result.Confidence
	record.Digest = result.Digest
	record.Digests = result.Digests
	record.SniffedType = result.SniffedType
	record.TLSH = result.TLSH
	writer.WriteRecord(record)
}

func countFiles(ctx context.Context, root string, matcher *utils.PatternMatcher) (int, error) {
	var total int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("Failed to access %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d != nil && !d.IsDir() && matcher.ShouldInclude(path) {
			total++
		}
		return nil
	})
	return total, err
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("PESCAN_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
