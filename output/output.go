// Package output renders batch classification reports as NDJSON and
// exports classification events to an optional OTLP logs endpoint.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"pescan/logger"
	"pescan/version"
)

// SchemaVersion tags report records so downstream consumers can detect
// layout changes.
const SchemaVersion = "1"

// Metrics summarizes a batch run and closes the report.
type Metrics struct {
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	FilesSeen       int64  `json:"files_seen"`
	FilesClassified int64  `json:"files_classified"`
	FilesFailed     int64  `json:"files_failed"`
	Malicious       int64  `json:"malicious"`
	Benign          int64  `json:"benign"`
}

// Record is one classified file in a batch report.
type Record struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	ModTime      string            `json:"mod_time,omitempty"`
	AccessTime   string            `json:"access_time,omitempty"`
	CreationTime string            `json:"creation_time,omitempty"`
	Label        string            `json:"label,omitempty"`
	Confidence   float64           `json:"confidence"`
	Digest       string            `json:"digest,omitempty"`
	Digests      map[string]string `json:"digests,omitempty"`
	SniffedType  string            `json:"sniffed_type,omitempty"`
	TLSH         string            `json:"tlsh,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type hostInfo struct {
	Hostname    string `json:"hostname"`
	Platform    string `json:"platform"`
	OS          string `json:"os"`
	LogicalCPUs int    `json:"logical_cpus"`
	MemoryTotal uint64 `json:"memory_total"`
	GoVersion   string `json:"go_version"`
	ScanVersion string `json:"scan_version"`
	ModelPath   string `json:"model_path"`
}

// Writer emits NDJSON records to a report file, safe for concurrent
// use by the batch worker pool.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	emitter *Emitter
}

// New opens the report and writes the header record. The emitter may
// be nil.
func New(path, modelPath string, emitter *Emitter) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", path, err)
	}

	w := &Writer{
		file:    f,
		buf:     bufio.NewWriter(f),
		emitter: emitter,
	}
	if err := w.writeLine("host", collectHostInfo(modelPath)); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func collectHostInfo(modelPath string) hostInfo {
	info := hostInfo{
		GoVersion:   runtime.Version(),
		ScanVersion: version.Version,
		ModelPath:   modelPath,
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.OS = h.OS
	}
	if n, err := cpu.Counts(true); err == nil {
		info.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
	}
	return info
}

// WriteRecord appends one classified-file record and mirrors it to the
// OTLP exporter when configured.
func (w *Writer) WriteRecord(record Record) {
	if err := w.writeLine("file", record); err != nil {
		logger.Warnf("Failed to write report record for %s: %v", record.Path, err)
	}

	outcome := "classified"
	if record.Error != "" {
		outcome = "failed"
	}
	w.emitter.EmitScan(ScanEvent{
		DeclaredName: record.Path,
		Label:        record.Label,
		Confidence:   record.Confidence,
		Digest:       record.Digest,
		SniffedType:  record.SniffedType,
		Outcome:      outcome,
	})
}

// WriteMetrics appends the closing metrics record.
func (w *Writer) WriteMetrics(metrics Metrics) {
	if err := w.writeLine("metrics", metrics); err != nil {
		logger.Warnf("Failed to write report metrics: %v", err)
	}
}

func (w *Writer) writeLine(recordType string, payload interface{}) error {
	envelope := struct {
		Type          string      `json:"type"`
		SchemaVersion string      `json:"schema_version"`
		Timestamp     string      `json:"timestamp"`
		Data          interface{} `json:"data"`
	}{
		Type:          recordType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          payload,
	}
	line, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Close flushes the report file. The emitter is shut down by its
// owner, since it may outlive the report in service mode.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}
