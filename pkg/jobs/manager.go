// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/styletransfer/internal/fsutil"
	"github.com/gomlx/styletransfer/pkg/styletransfer"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DefaultWorkers is the default number of jobs run concurrently.
const DefaultWorkers = 1

// Config for NewManager.
type Config struct {
	// Backend executes the synthesis. Required.
	Backend backends.Backend

	// Extractor used by every job. It must be safe for concurrent use if Workers > 1. Required.
	Extractor styletransfer.FeatureExtractor

	// Context holds the hyperparameters. Each job uses its own clone of it.
	// If nil, styletransfer.CreateDefaultContext() is used.
	Context *context.Context

	// Store for the job records. If nil, a MemoryStore is used.
	Store Store

	// Workers is the maximum number of jobs run concurrently. If 0, DefaultWorkers is used.
	Workers int
}

// Manager runs style transfer jobs in the background, and keeps track of their records.
type Manager struct {
	backend   backends.Backend
	extractor styletransfer.FeatureExtractor
	ctx       *context.Context
	store     Store
	pool      *Pool

	mu   sync.Mutex
	done map[ID]chan struct{}
}

// NewManager creates a Manager. Records left pending or running by a previous process are marked as failed.
func NewManager(config Config) (*Manager, error) {
	if config.Backend == nil {
		return nil, errors.New("jobs.NewManager requires a backend")
	}
	if config.Extractor == nil {
		return nil, errors.New("jobs.NewManager requires a feature extractor")
	}
	m := &Manager{
		backend:   config.Backend,
		extractor: config.Extractor,
		ctx:       config.Context,
		store:     config.Store,
		done:      make(map[ID]chan struct{}),
	}
	if m.ctx == nil {
		m.ctx = styletransfer.CreateDefaultContext()
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	workers := config.Workers
	if workers == 0 {
		workers = DefaultWorkers
	}
	m.pool = NewPool(workers)
	if err := m.failInterrupted(); err != nil {
		return nil, err
	}
	return m, nil
}

// failInterrupted marks as failed records that were not finished.
func (m *Manager) failInterrupted() error {
	records, err := m.store.List()
	if err != nil {
		return errors.WithMessage(err, "listing previous jobs")
	}
	for _, rec := range records {
		if rec.Status.Done() {
			continue
		}
		rec.Status = StatusFailed
		rec.Error = "interrupted"
		rec.UpdatedAt = time.Now()
		if err = m.store.Save(rec); err != nil {
			return errors.WithMessagef(err, "marking job %q as interrupted", rec.ID)
		}
		klog.Warningf("job %s was interrupted", rec.ID)
	}
	return nil
}

// Store returns the store of the job records.
func (m *Manager) Store() Store { return m.store }

// Start decodes the content and style images and schedules a job to synthesize the result into resultPath.
// It returns as soon as the job is queued.
//
// If either image can't be decoded, it returns a *styletransfer.DecodeError and no job is created.
func (m *Manager) Start(contentPath, stylePath, resultPath string) (ID, error) {
	maxDim := styletransfer.MaxImageDim(m.ctx)
	var content, style *tensors.Tensor
	var g errgroup.Group
	g.Go(func() (err error) {
		content, err = styletransfer.LoadImage(contentPath, maxDim)
		return
	})
	g.Go(func() (err error) {
		style, err = styletransfer.LoadImage(stylePath, maxDim)
		return
	})
	if err := g.Wait(); err != nil {
		finalizeTensors(content, style)
		return "", err
	}

	now := time.Now()
	rec := Record{
		ID:        NewID(),
		Status:    StatusPending,
		Content:   contentPath,
		Style:     stylePath,
		Result:    resultPath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(rec); err != nil {
		finalizeTensors(content, style)
		return "", errors.WithMessage(err, "creating job")
	}
	done := make(chan struct{})
	m.mu.Lock()
	m.done[rec.ID] = done
	m.mu.Unlock()

	klog.V(1).Infof("job %s: queued, content=%q, style=%q", rec.ID, contentPath, stylePath)
	m.pool.Submit(func() {
		defer m.markDone(rec.ID, done)
		defer finalizeTensors(content, style)
		m.run(rec, content, style)
	})
	return rec.ID, nil
}

// markDone releases the waiters of the job and forgets it: its record is final by now.
func (m *Manager) markDone(id ID, done chan struct{}) {
	m.mu.Lock()
	delete(m.done, id)
	m.mu.Unlock()
	close(done)
}

func finalizeTensors(ts ...*tensors.Tensor) {
	for _, t := range ts {
		if t != nil {
			t.FinalizeAll()
		}
	}
}

// run executes the job in the current goroutine. Errors (and panics) are recorded in the job record.
func (m *Manager) run(rec Record, content, style *tensors.Tensor) {
	reporter := &recordReporter{store: m.store, rec: rec}
	reporter.update(func(r *Record) { r.Status = StatusRunning })

	start := time.Now()
	err := m.synthesize(reporter, content, style)
	if err != nil {
		klog.Errorf("job %s failed: %+v", rec.ID, err)
		reporter.update(func(r *Record) {
			r.Status = StatusFailed
			r.Error = err.Error()
		})
		return
	}
	reporter.update(func(r *Record) {
		r.Status = StatusCompleted
		r.Progress = 100
	})
	klog.Infof("job %s completed in %s", rec.ID, time.Since(start))
}

func (m *Manager) synthesize(reporter *recordReporter, content, style *tensors.Tensor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	ctx := m.ctx.Clone()
	defer ctx.Finalize()
	synth := styletransfer.NewSynthesizer(m.backend, ctx, m.extractor).WithReporter(reporter)
	if err = synth.Initialize(content, style); err != nil {
		return err
	}
	return synth.Run()
}

// Status returns the record of the job. It returns ErrNotFound for unknown IDs.
func (m *Manager) Status(id ID) (Record, error) {
	return m.store.Load(id)
}

// List returns the records of all jobs, oldest first.
func (m *Manager) List() ([]Record, error) {
	return m.store.List()
}

// Progress returns the progress of the job, from 0 to 100, or 0 if the job is unknown.
func (m *Manager) Progress(id ID) int {
	rec, err := m.store.Load(id)
	if err != nil {
		return 0
	}
	return rec.Progress
}

// Result returns the path of the result image of the job, if it has been written.
// It returns ErrNotFound for unknown IDs and ErrResultNotReady if no image was written yet.
// The image may be an intermediate checkpoint while the job is running.
func (m *Manager) Result(id ID) (string, error) {
	rec, err := m.store.Load(id)
	if err != nil {
		return "", err
	}
	exists, err := fsutil.FileExists(rec.Result)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Wrapf(ErrResultNotReady, "job %q", id)
	}
	return rec.Result, nil
}

// Wait blocks until the job is finished, and returns its final record.
// Jobs started by another process are only found if they are already finished.
func (m *Manager) Wait(id ID) (Record, error) {
	m.mu.Lock()
	done, found := m.done[id]
	m.mu.Unlock()
	if found {
		<-done
	}
	rec, err := m.store.Load(id)
	if err != nil {
		return rec, err
	}
	if !rec.Status.Done() {
		return rec, errors.Errorf("job %q is %s, but it is not run by this manager", id, rec.Status)
	}
	return rec, nil
}

// Stats is a snapshot of the load of a Manager.
type Stats struct {
	// Workers is the maximum number of jobs run concurrently, or -1 if unlimited.
	Workers int `json:"workers"`

	// Running is the number of jobs being synthesized.
	Running int `json:"running"`

	// Queued is the number of jobs waiting for a worker.
	Queued int `json:"queued"`
}

// Stats returns the current load of the manager.
func (m *Manager) Stats() Stats {
	return Stats{
		Workers: m.pool.MaxParallelism(),
		Running: m.pool.Running(),
		Queued:  m.pool.Queued(),
	}
}

// Close waits for all jobs to finish and closes the store.
func (m *Manager) Close() error {
	m.pool.Wait()
	return m.store.Close()
}

// recordReporter implements styletransfer.Reporter by saving progress to the job record, and checkpoints
// to the result path.
type recordReporter struct {
	store Store
	rec   Record
}

var _ styletransfer.Reporter = (*recordReporter)(nil)

func (r *recordReporter) update(fn func(rec *Record)) {
	fn(&r.rec)
	r.rec.UpdatedAt = time.Now()
	if err := r.store.Save(r.rec); err != nil {
		klog.Warningf("job %s: failed to save record: %v", r.rec.ID, err)
	}
}

// Report implements styletransfer.Reporter.
func (r *recordReporter) Report(progress int) error {
	if progress == 100 {
		// Recorded together with the final status.
		return nil
	}
	r.rec.Progress = progress
	r.rec.UpdatedAt = time.Now()
	return r.store.Save(r.rec)
}

// Checkpoint implements styletransfer.Reporter.
func (r *recordReporter) Checkpoint(img image.Image) error {
	if err := styletransfer.SaveImage(r.rec.Result, img); err != nil {
		return errors.WithMessage(err, fmt.Sprintf("job %s", r.rec.ID))
	}
	return nil
}

// RemoveFiles deletes the input and result images of a finished job.
func (m *Manager) RemoveFiles(id ID) error {
	rec, err := m.store.Load(id)
	if err != nil {
		return err
	}
	if !rec.Status.Done() {
		return errors.Errorf("job %q is still %s", id, rec.Status)
	}
	for _, path := range []string{rec.Content, rec.Style, rec.Result} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "removing %q", path)
		}
	}
	return nil
}
