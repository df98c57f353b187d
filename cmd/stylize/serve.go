// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/gomlx/styletransfer/pkg/jobs"
	"github.com/gomlx/styletransfer/pkg/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

type serveFlags struct {
	commonFlags
	addr, dataDir, storeKind string
	workers                  int
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the style transfer HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.addr, "addr", ":5000", "Address to listen on.")
	cmd.Flags().StringVar(&flags.dataDir, "data", "~/.cache/styletransfer/data",
		"Directory for uploads, results and job records.")
	cmd.Flags().StringVar(&flags.storeKind, "store", "file", `Job records store: "file", "sqlite" or "memory".`)
	cmd.Flags().IntVar(&flags.workers, "workers", jobs.DefaultWorkers, "Number of jobs run concurrently.")
	return cmd
}

func newStore(kind, dataDir string) (jobs.Store, error) {
	switch kind {
	case "file":
		return jobs.NewFileStore(filepath.Join(dataDir, "jobs"))
	case "sqlite":
		return jobs.NewSQLiteStore(filepath.Join(dataDir, "jobs.db"))
	case "memory":
		return jobs.NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown --store=%q, valid values are \"file\", \"sqlite\" or \"memory\"", kind)
	}
}

func serve(cmd *cobra.Command, flags *serveFlags) error {
	dataDir, err := fsutil.ReplaceTildeInDir(flags.dataDir)
	if err != nil {
		return err
	}
	ctx, err := flags.context()
	if err != nil {
		return err
	}
	extractor, err := flags.extractor(cmd)
	if err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	defer backend.Finalize()
	store, err := newStore(flags.storeKind, dataDir)
	if err != nil {
		return err
	}
	manager, err := jobs.NewManager(jobs.Config{
		Backend:   backend,
		Extractor: extractor,
		Context:   ctx,
		Store:     store,
		Workers:   flags.workers,
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			klog.Errorf("closing jobs: %+v", err)
		}
	}()
	srv, err := server.New(manager, dataDir)
	if err != nil {
		return err
	}

	if !klog.V(1).Enabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              flags.addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	serveErr := make(chan error, 1)
	go func() {
		klog.Infof("serving style transfer API on %s, data in %q", flags.addr, dataDir)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		return errors.Wrap(err, "serving HTTP")
	case <-sigCtx.Done():
	}
	klog.Infof("shutting down, waiting for running jobs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down HTTP server")
	}
	return nil
}
