package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pescan/allowlist"
	"pescan/batch"
	"pescan/classify"
	"pescan/config"
	"pescan/diag"
	"pescan/logger"
	"pescan/model"
	"pescan/output"
	"pescan/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	artifact, err := model.Load(cfg.ModelPath, model.Options{
		ScalerPath: cfg.ScalerPath,
		MetaPath:   cfg.ModelMetaPath,
	})
	if err != nil {
		logger.Fatalf("Failed to load model artifact: %v", err)
	}
	opts := classify.Options{
		Workers:        cfg.WorkerPoolSize,
		MaxUploadBytes: cfg.MaxUploadBytes,
		HashAlgorithms: cfg.HashAlgorithms,
	}
	if cfg.AllowlistPath != "" {
		allow, err := allowlist.Load(cfg.AllowlistPath)
		if err != nil {
			logger.Fatalf("Failed to load allowlist: %v", err)
		}
		logger.Infof("Loaded allowlist with %d digests", allow.Len())
		opts.Allowlist = allow
	}
	svc := classify.New(artifact, opts)

	emitter, err := output.NewEmitter(cfg)
	if err != nil {
		logger.Warnf("Telemetry export disabled: %v", err)
	}
	defer emitter.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchdog := diag.NewWatchdog(diag.Options{
		StallThreshold: cfg.DiagStallThreshold,
		Dir:            cfg.DiagDir,
		ProgressFn:     svc.Processed,
		InFlightFn:     svc.InFlight,
	})
	watchdog.Start(ctx)
	defer watchdog.Close()

	if cfg.BatchPath != "" {
		go handleSignals(cancel, nil)
		if err := batch.Run(ctx, cfg, svc, emitter); err != nil {
			logger.Fatalf("Batch run failed: %v", err)
		}
		logger.Info("Batch run completed successfully.")
		return
	}

	srv := server.New(cfg, svc, emitter)
	go handleSignals(cancel, srv)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Server shut down cleanly.")
}

func handleSignals(cancelFunc context.CancelFunc, srv *server.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("Graceful shutdown failed: %v", err)
		}
	}
	cancelFunc()
}
