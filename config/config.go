package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"pescan/version"
)

type Config struct {
	ListenAddr         string            `json:"listen_addr"`
	ModelPath          string            `json:"model_path"`
	ScalerPath         string            `json:"scaler_path"`
	ModelMetaPath      string            `json:"model_meta_path"`
	AllowlistPath      string            `json:"allowlist_path"`
	HashAlgorithms     []string          `json:"hash_algorithms"`
	MaxUploadBytes     int64             `json:"max_upload_bytes"`
	WorkerPoolSize     int               `json:"worker_pool_size"`
	RequestTimeout     time.Duration     `json:"request_timeout"`
	RateLimitPerSecond float64           `json:"rate_limit_per_second"`
	RateLimitBurst     int               `json:"rate_limit_burst"`
	LogLevel           string            `json:"log_level"`
	BatchPath          string            `json:"batch_path"`
	BatchOutput        string            `json:"batch_output"`
	BatchIncludes      []string          `json:"batch_include_patterns"`
	BatchExcludes      []string          `json:"batch_exclude_patterns"`
	BatchMmapMinSize   int64             `json:"batch_mmap_min_size"`
	DiagStallThreshold time.Duration     `json:"diag_stall_threshold"`
	DiagDir            string            `json:"diag_dir"`
	OtelEndpoint       string            `json:"otel_endpoint"`
	OtelFromEnv        bool              `json:"otel_from_env"`
	OtelHeaders        map[string]string `json:"otel_headers"`
	OtelServiceName    string            `json:"otel_service_name"`
	OtelTimeout        time.Duration     `json:"otel_timeout"`
	OtelExportNames    bool              `json:"otel_export_names"`
	ConfigFile         string            `json:"-"`
}

func LoadConfig() (*Config, error) {
	cfg := Defaults()

	listenAddr := flag.String("listen", cfg.ListenAddr, fmt.Sprintf("HTTP listen address (default: %s).", cfg.ListenAddr))
	modelPath := flag.String("model", cfg.ModelPath, "Path to the scoring model artifact (LightGBM text or XGBoost binary).")
	scalerPath := flag.String("scaler", cfg.ScalerPath, "Path to optional JSON feature scaler (default: none).")
	modelMetaPath := flag.String("model-meta", cfg.ModelMetaPath, "Path to model metadata JSON (default: <model>.meta.json when present).")
	allowlistPath := flag.String("allowlist", cfg.AllowlistPath, "Path to newline-delimited hex digests of known-benign files (default: none).")
	hashes := flag.String("hashes", strings.Join(cfg.HashAlgorithms, ","), fmt.Sprintf("Comma-separated list of extra digest algorithms for scan diagnostics (default: %s).", strings.Join(cfg.HashAlgorithms, ",")))
	maxUpload := flag.Int64("max-upload-bytes", cfg.MaxUploadBytes, fmt.Sprintf("Maximum accepted upload size in bytes (default: %d).", cfg.MaxUploadBytes))
	workers := flag.Int("workers", cfg.WorkerPoolSize, fmt.Sprintf("Worker pool size bounding concurrent extraction/scoring (default: %d).", cfg.WorkerPoolSize))
	requestTimeout := flag.Duration("request-timeout", cfg.RequestTimeout, "Per-request wall-clock ceiling (default: 120s).")
	rateLimit := flag.Float64("rate-limit", cfg.RateLimitPerSecond, "Maximum scan requests per second, 0 disables (default: 0).")
	rateBurst := flag.Int("rate-burst", cfg.RateLimitBurst, fmt.Sprintf("Rate limiter burst size (default: %d).", cfg.RateLimitBurst))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	batchPath := flag.String("batch", "", "Classify every file under this directory and exit instead of serving (default: none).")
	batchOutput := flag.String("batch-output", cfg.BatchOutput, "Batch report file name (default: pescan-<timestamp>.ndjson).")
	batchIncludes := flag.String("batch-include", "", "Comma-separated include patterns for batch mode (default: none).")
	batchExcludes := flag.String("batch-exclude", "", "Comma-separated exclude patterns for batch mode (default: none).")
	batchMmapMinSize := flag.Int64("batch-mmap-min-size", cfg.BatchMmapMinSize, fmt.Sprintf("Minimum file size in bytes for the mmap read path in batch mode (default: %d).", cfg.BatchMmapMinSize))
	diagStall := flag.Duration("diag-stall-threshold", cfg.DiagStallThreshold, "If positive, dump diagnostics when scan progress stalls for this duration (default: 0/off).")
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint for classification events (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: pescan).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportNames := flag.Bool("otel-export-names", cfg.OtelExportNames, "Include declared file names in OTEL payloads (default: false).")
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("pescan version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Explicit flags win over config-file values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "model":
			cfg.ModelPath = *modelPath
		case "scaler":
			cfg.ScalerPath = *scalerPath
		case "model-meta":
			cfg.ModelMetaPath = *modelMetaPath
		case "allowlist":
			cfg.AllowlistPath = *allowlistPath
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "max-upload-bytes":
			cfg.MaxUploadBytes = *maxUpload
		case "workers":
			cfg.WorkerPoolSize = *workers
		case "request-timeout":
			cfg.RequestTimeout = *requestTimeout
		case "rate-limit":
			cfg.RateLimitPerSecond = *rateLimit
		case "rate-burst":
			cfg.RateLimitBurst = *rateBurst
		case "log-level":
			cfg.LogLevel = *logLevel
		case "batch":
			cfg.BatchPath = *batchPath
		case "batch-output":
			cfg.BatchOutput = *batchOutput
		case "batch-include":
			cfg.BatchIncludes = parseCommaSeparated(*batchIncludes)
		case "batch-exclude":
			cfg.BatchExcludes = parseCommaSeparated(*batchExcludes)
		case "batch-mmap-min-size":
			cfg.BatchMmapMinSize = *batchMmapMinSize
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStall
		case "diag-dir":
			cfg.DiagDir = *diagDir
		case "otel-endpoint":
			cfg.OtelEndpoint = *otelEndpoint
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaderList(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = *otelServiceName
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-names":
			cfg.OtelExportNames = *otelExportNames
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	now := time.Now().UTC()
	return &Config{
		ListenAddr:         ":8080",
		ModelPath:          "model.txt",
		HashAlgorithms:     []string{"sha256"},
		MaxUploadBytes:     256 * 1024 * 1024,
		WorkerPoolSize:     runtime.NumCPU(),
		RequestTimeout:     120 * time.Second,
		RateLimitPerSecond: 0,
		RateLimitBurst:     16,
		LogLevel:           "info",
		BatchOutput:        fmt.Sprintf("pescan-%s.ndjson", now.Format("20060102-150405")),
		BatchMmapMinSize:   128 * 1024,
		DiagDir:            ".",
		OtelHeaders:        map[string]string{},
		OtelServiceName:    "pescan",
		OtelTimeout:        5 * time.Second,
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model path must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.BatchPath == "" && c.ListenAddr == "" {
		return fmt.Errorf("either a listen address or a batch path is required")
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseHeaderList(input string) map[string]string {
	headers := map[string]string{}
	for _, pair := range parseCommaSeparated(input) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
