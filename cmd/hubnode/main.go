// Command hubnode runs the hub gateway server: loads configuration,
// initializes the storage driver, and serves the HTTP surface spec.md §6
// describes. Mirrors the teacher's cmd/aisnode shape: a thin main() that
// parses flags, builds the runtime, serves HTTP in the background and
// blocks until SIGINT/SIGTERM, then shuts the server down gracefully.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/blockvault/hub/config"
	"github.com/blockvault/hub/driver"
	"github.com/blockvault/hub/driver/memdriver"
	"github.com/blockvault/hub/driver/s3driver"
	"github.com/blockvault/hub/hub"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Fatalf("hubnode: %v", err)
	}

	drv, err := buildDriver(cfg)
	if err != nil {
		glog.Fatalf("hubnode: building driver %q: %v", cfg.Driver, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := drv.EnsureInitialized(ctx); err != nil {
		glog.Fatalf("hubnode: driver initialization failed: %v", err)
	}

	h := hub.New(cfg, drv)
	go h.RunEvictionReporter(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: hub.NewRouter(h),
	}

	go func() {
		glog.Infof("hubnode: listening on %s (driver=%s bucket=%s)", srv.Addr, cfg.Driver, cfg.Bucket)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("hubnode: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	glog.Infof("hubnode: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("hubnode: graceful shutdown failed: %v", err)
	}
}

func buildDriver(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Driver {
	case "", "memdriver":
		return memdriver.New(cfg.ReadURL)
	case "s3driver":
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, fmt.Errorf("s3driver requires config fields s3Bucket and s3Region")
		}
		return s3driver.New(cfg.S3Bucket, cfg.S3Region, cfg.ReadURL)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
