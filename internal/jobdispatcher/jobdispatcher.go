// Package jobdispatcher implements the DBus client against systemd's
// manager object described in spec.md §4.5, grounded on
// crates/system-manager-engine/src/systemd.rs's ServiceManager/JobMonitor.
// The original pumped DBus events in 50ms slices on a single thread; Go's
// idiomatic rendering of "wait for N independent jobs, joined under a
// shared deadline" is one goroutine per job using go-systemd's own
// completion channel, joined with golang.org/x/sync/errgroup — the
// observable contract (blocks until every job completes or the deadline
// elapses, no mid-flight cancellation) is identical.
package jobdispatcher

import (
	"context"
	"fmt"
	"time"

	sysdbus "github.com/coreos/go-systemd/v22/dbus"
	"golang.org/x/sync/errgroup"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/pkg/logging"
)

// mode is always "replace", per spec.md §4.5.
const replaceMode = "replace"

// Dispatcher wraps a single system-bus connection, subscribed for job
// signals. One Dispatcher serves an entire Orchestrator operation.
type Dispatcher struct {
	conn    *sysdbus.Conn
	timeout time.Duration
}

// New opens a system-bus connection and subscribes for unit/job state
// changes. dbusTimeout bounds every individual DBus method call issued
// through the returned Dispatcher (engineconfig's DbusTimeout knob); it does
// not bound Batch.WaitAll, whose own deadline is derived by the caller per
// spec.md §4.5.
func New(ctx context.Context, dbusTimeout time.Duration) (*Dispatcher, error) {
	conn, err := sysdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, activationerr.New(activationerr.DbusError, "", fmt.Errorf("connecting to system bus: %w", err))
	}
	return &Dispatcher{conn: conn, timeout: dbusTimeout}, nil
}

// withTimeout derives a context bounded by d.timeout, for a single DBus
// method call.
func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// Close unsubscribes and closes the underlying connection.
func (d *Dispatcher) Close() {
	d.conn.Close()
}

// DaemonReload fires systemd's Reload method and blocks until it completes.
func (d *Dispatcher) DaemonReload(ctx context.Context) error {
	logging.Info("JobDispatcher", "reloading the systemd daemon")
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := d.conn.ReloadContext(ctx); err != nil {
		return activationerr.New(activationerr.DbusError, "", fmt.Errorf("daemon-reload: %w", err))
	}
	return nil
}

// UnitStatus mirrors the ten fields systemd's ListUnitsByPatterns returns,
// matching the Rust UnitStatus tuple field-for-field.
type UnitStatus = sysdbus.UnitStatus

// ListUnitsByPatterns is a thin wrapper returning unit-status records.
func (d *Dispatcher) ListUnitsByPatterns(ctx context.Context, states, patterns []string) ([]UnitStatus, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	units, err := d.conn.ListUnitsByPatternsContext(ctx, states, patterns)
	if err != nil {
		return nil, activationerr.New(activationerr.DbusError, "", fmt.Errorf("listing units: %w", err))
	}
	return units, nil
}

// MaskUnitFiles masks the given units, replacing any existing symlinks.
func (d *Dispatcher) MaskUnitFiles(ctx context.Context, units []string, runtime bool) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	changes, err := d.conn.MaskUnitFilesContext(ctx, units, runtime, true)
	if err != nil {
		return activationerr.New(activationerr.DbusError, "", fmt.Errorf("masking units: %w", err))
	}
	for _, c := range changes {
		logging.Debug("JobDispatcher", "mask change: %s %s -> %s", c.Type, c.Filename, c.Destination)
	}
	return nil
}

// UnmaskUnitFiles unmasks the given units.
func (d *Dispatcher) UnmaskUnitFiles(ctx context.Context, units []string, runtime bool) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	changes, err := d.conn.UnmaskUnitFilesContext(ctx, units, runtime)
	if err != nil {
		return activationerr.New(activationerr.DbusError, "", fmt.Errorf("unmasking units: %w", err))
	}
	for _, c := range changes {
		logging.Debug("JobDispatcher", "unmask change: %s %s -> %s", c.Type, c.Filename, c.Destination)
	}
	return nil
}

// pendingJob is one submitted job awaiting completion.
type pendingJob struct {
	unit string
	ch   chan string
}

// Batch collects jobs submitted together so they can be waited on as one
// unit, matching the Rust JobMonitor's job_names set scoped to one
// activation stage.
type Batch struct {
	d    *Dispatcher
	jobs []pendingJob
}

// NewBatch starts a fresh batch of jobs to submit and later wait on.
func (d *Dispatcher) NewBatch() *Batch {
	return &Batch{d: d}
}

type submitFunc func(ctx context.Context, unit, mode string, ch chan<- string) (int, error)

func (b *Batch) submit(ctx context.Context, unit, logAction string, fn submitFunc) {
	ch := make(chan string, 1)
	submitCtx, cancel := b.d.withTimeout(ctx)
	defer cancel()
	if _, err := fn(submitCtx, unit, replaceMode, ch); err != nil {
		logging.Error("JobDispatcher", err, "unit %s: error %s, please consult the logs", unit, logAction)
		return
	}
	logging.Debug("JobDispatcher", "unit %s: %s...", unit, logAction)
	b.jobs = append(b.jobs, pendingJob{unit: unit, ch: ch})
}

// StartUnit submits a start job for unit in replace mode.
func (b *Batch) StartUnit(ctx context.Context, unit string) {
	b.submit(ctx, unit, "starting", b.d.conn.StartUnitContext)
}

// StopUnit submits a stop job for unit in replace mode.
func (b *Batch) StopUnit(ctx context.Context, unit string) {
	b.submit(ctx, unit, "stopping", b.d.conn.StopUnitContext)
}

// ReloadOrRestartUnit submits a reload-or-restart job for unit in replace mode.
func (b *Batch) ReloadOrRestartUnit(ctx context.Context, unit string) {
	b.submit(ctx, unit, "reloading", b.d.conn.ReloadOrRestartUnitContext)
}

// RestartUnit submits a restart job for unit in replace mode.
func (b *Batch) RestartUnit(ctx context.Context, unit string) {
	b.submit(ctx, unit, "restarting", b.d.conn.RestartUnitContext)
}

// Len reports how many jobs were successfully submitted to this batch.
func (b *Batch) Len() int {
	return len(b.jobs)
}

// WaitAll blocks until every submitted job completes or ctx is done
// (the caller is expected to derive ctx with the spec's 30-second
// deadline). It returns true iff every job completed before that happened,
// matching spec.md §4.5's "waitAll(jobIds, deadline) → bool" contract.
func (b *Batch) WaitAll(ctx context.Context) bool {
	if len(b.jobs) == 0 {
		return true
	}

	logging.Info("JobDispatcher", "waiting for %d job(s) to finish...", len(b.jobs))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, job := range b.jobs {
		job := job
		group.Go(func() error {
			select {
			case result := <-job.ch:
				logging.Debug("JobDispatcher", "job for %s done: %s", job.unit, result)
				return nil
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		})
	}

	if err := group.Wait(); err != nil {
		return false
	}
	logging.Info("JobDispatcher", "all jobs finished")
	return true
}
