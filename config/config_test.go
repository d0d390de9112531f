package config

import (
	"os"
	"runtime"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr %q", cfg.ListenAddr)
	}
	if cfg.WorkerPoolSize != runtime.NumCPU() {
		t.Fatalf("worker pool size %d, expected %d", cfg.WorkerPoolSize, runtime.NumCPU())
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("request timeout %v", cfg.RequestTimeout)
	}
	if len(cfg.HashAlgorithms) != 1 || cfg.HashAlgorithms[0] != "sha256" {
		t.Fatalf("hash algorithms %v, expected [sha256]", cfg.HashAlgorithms)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParseCommaSeparated(t *testing.T) {
	res := parseCommaSeparated("*.exe, *.dll ,*.sys")
	if len(res) != 3 || res[1] != "*.dll" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseCommaSeparated(""); len(res) != 0 {
		t.Fatal("expected empty slice")
	}
	if res := parseCommaSeparated(" , ,"); len(res) != 0 {
		t.Fatalf("expected blanks dropped, got %v", res)
	}
}

func TestParseHeaderList(t *testing.T) {
	headers := parseHeaderList("authorization=Bearer abc, x-tenant=prod, malformed")
	if headers["authorization"] != "Bearer abc" || headers["x-tenant"] != "prod" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if _, ok := headers["malformed"]; ok {
		t.Fatal("pair without '=' should be dropped")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmp, err := os.CreateTemp("", "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString(`{"listen_addr":":9090","model_path":"/models/ember.txt","worker_pool_size":4}`)
	tmp.Close()
	defer os.Remove(tmp.Name())

	cfg := Defaults()
	if err := cfg.loadFromFile(tmp.Name()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.ModelPath != "/models/ember.txt" || cfg.WorkerPoolSize != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// Fields absent from the file keep their defaults.
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("request timeout %v, expected default", cfg.RequestTimeout)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := Defaults()
	if err := cfg.loadFromFile("/nonexistent/cfg.json"); err == nil {
		t.Fatal("expected error for missing file")
	}

	tmp, err := os.CreateTemp("", "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString("{not json")
	tmp.Close()
	defer os.Remove(tmp.Name())
	if err := cfg.loadFromFile(tmp.Name()); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.ModelPath = ""
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for empty model path")
	}

	cfg = Defaults()
	cfg.MaxUploadBytes = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for zero upload cap")
	}

	cfg = Defaults()
	cfg.WorkerPoolSize = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for negative worker pool")
	}

	cfg = Defaults()
	cfg.RequestTimeout = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for zero timeout")
	}

	cfg = Defaults()
	cfg.RateLimitPerSecond = -1
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error for negative rate limit")
	}

	cfg = Defaults()
	cfg.ListenAddr = ""
	if err := cfg.validate(); err == nil {
		t.Fatal("expected error without listen address or batch path")
	}
	cfg.BatchPath = "/samples"
	if err := cfg.validate(); err != nil {
		t.Fatalf("batch path alone should validate: %v", err)
	}
}
