package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/intake/internal/archive"
	"github.com/raphaelgruber/intake/internal/classify"
	"github.com/raphaelgruber/intake/internal/config"
	"github.com/raphaelgruber/intake/internal/finalize"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/upload"
	"github.com/raphaelgruber/intake/internal/watcher"
)

// DaemonOptions holds optional hooks for a Daemon.
type DaemonOptions struct {
	// OnResult is called after every finalized item.
	OnResult func(item models.Item)
	// OnScheduled is called with the number of tasks each submission produced.
	OnScheduled func(n int)
}

// Daemon owns one pipeline instance: scheduler, walker and per-item driver
// over a single inbound folder.
type Daemon struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Collector
	finalizer *finalize.Finalizer
	ingest    *IngestService
	sched     *Scheduler
	walker    *Walker
	fatal     chan error
	opts      DaemonOptions
}

// NewDaemon builds the pipeline from cfg. cfg must already be validated.
func NewDaemon(cfg config.Config, logger *slog.Logger, opts DaemonOptions) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		fatal:   make(chan error, 1),
		opts:    opts,
	}

	d.finalizer = finalize.New(cfg.InboundFolder, cfg.ProcessedFolder, cfg.FailedFolder, logger)
	d.ingest = NewIngestService(
		classify.New(cfg.OpaqueTypes...),
		archive.NewNormalizer(cfg.WorkDir, logger),
		upload.New(cfg.UploadEndpoint, cfg.UploadTimeout),
		d.finalizer,
		IngestOptions{
			OpaqueContentType: cfg.OpaqueContentType,
			Metrics:           d.metrics,
			Logger:            logger,
			OnResult:          opts.OnResult,
		},
	)
	d.sched = NewScheduler(cfg.MaxConcurrency, logger, d.handleTaskError)
	d.walker = NewWalker(cfg.InboundFolder, d.sched, d.ingest.Process, logger)
	d.walker.OnSkip(func(string) { d.metrics.Inc(metrics.CountSkipped) })
	return d
}

func (d *Daemon) handleTaskError(key string, err error) {
	if !IsFatal(err) {
		return
	}
	select {
	case d.fatal <- err:
	default:
	}
}

// Run watches Inbound until ctx is cancelled or a fatal error occurs. The
// watch is installed before the startup sweep so nothing deposited in
// between is missed.
func (d *Daemon) Run(ctx context.Context) error {
	w, err := watcher.New(d.cfg.InboundFolder, d.cfg.SettleDelay, d.logger)
	if err != nil {
		d.shutdown()
		return &InboundError{Dir: d.cfg.InboundFolder, Err: err}
	}
	defer w.Close()
	w.Start()

	d.logger.Info("intake started",
		"inbound", d.cfg.InboundFolder,
		"processed", d.cfg.ProcessedFolder,
		"failed", d.cfg.FailedFolder,
		"endpoint", d.cfg.UploadEndpoint,
		"workers", d.sched.Capacity(),
	)

	if err := d.reconcile(ctx); err != nil {
		d.shutdown()
		return err
	}

	var tick <-chan time.Time
	if d.cfg.StatsInterval > 0 {
		ticker := time.NewTicker(d.cfg.StatsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			break loop
		case p := <-w.Paths():
			d.submit(p)
		case <-w.Overflow():
			if err := d.reconcile(ctx); err != nil {
				runErr = err
				break loop
			}
		case err := <-w.Fatal():
			runErr = &InboundError{Dir: d.cfg.InboundFolder, Err: err}
			break loop
		case err := <-d.fatal:
			runErr = err
			break loop
		case <-tick:
			d.LogStats()
		}
	}

	if runErr != nil {
		d.logger.Error("fatal error, stopping", "error", runErr)
	}
	d.shutdown()
	return runErr
}

// ProcessOnce submits paths (or the whole of Inbound if none are given),
// waits for every resulting task and stops.
func (d *Daemon) ProcessOnce(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		if err := d.reconcile(ctx); err != nil {
			d.shutdown()
			return err
		}
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			d.logger.Warn("invalid path", "path", p, "error", err)
			continue
		}
		d.submit(abs)
	}

	drained := make(chan error, 1)
	go func() { drained <- d.sched.Drain(ctx) }()

	var runErr error
	select {
	case err := <-drained:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
		// A fatal error is reported before its task counts as finished.
		select {
		case err := <-d.fatal:
			runErr = err
		default:
		}
	case err := <-d.fatal:
		runErr = err
	}
	d.shutdown()
	return runErr
}

// Retry moves the named items, or every item if all is set, from Failed
// back to Inbound and returns their new paths.
func (d *Daemon) Retry(names []string, all bool) ([]string, error) {
	if all {
		listed, err := d.finalizer.Failed()
		if err != nil {
			return nil, fmt.Errorf("list failed items: %w", err)
		}
		names = listed
	}

	var (
		restored []string
		errs     []error
	)
	for _, name := range names {
		dest, err := d.finalizer.Restore(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
			continue
		}
		d.logger.Info("item resubmitted", "name", name, "path", dest)
		restored = append(restored, dest)
	}
	return restored, errors.Join(errs...)
}

// Stats returns the pipeline counters and the scheduler state.
func (d *Daemon) Stats() (metrics.Snapshot, SchedulerStats) {
	return d.metrics.Snapshot(), d.sched.Stats()
}

// LogStats writes one summary line.
func (d *Daemon) LogStats() {
	snap, st := d.Stats()
	d.logger.Info("pipeline stats",
		"pipeline", snap,
		"queued", st.Pending,
		"running", st.Running,
		"peak", st.Peak,
	)
}

func (d *Daemon) submit(path string) {
	n := d.walker.Submit(path)
	if d.opts.OnScheduled != nil && n > 0 {
		d.opts.OnScheduled(n)
	}
}

func (d *Daemon) reconcile(ctx context.Context) error {
	entries, err := d.walker.Reconcile(ctx)
	if err != nil {
		return err
	}
	if d.opts.OnScheduled != nil && entries > 0 {
		d.opts.OnScheduled(entries)
	}
	return nil
}

// shutdown waits for running items; they cannot be interrupted mid-pipeline.
func (d *Daemon) shutdown() {
	if err := d.sched.Shutdown(context.Background()); err != nil {
		d.logger.Warn("scheduler shutdown", "error", err)
	}
	d.LogStats()
}
