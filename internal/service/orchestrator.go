package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akarpov87/catsync/internal/errs"
	"github.com/akarpov87/catsync/internal/model"
)

// entitySyncer and cleanupRunner let orchestrator tests substitute fakes.
type entitySyncer interface {
	Sync(ctx context.Context, instanceID string, t model.EntityType, mode model.SyncMode) (model.SyncResult, error)
}

type cleanupRunner interface {
	Run(ctx context.Context, t model.EntityType) (model.CleanupResult, error)
}

// Orchestrator sequences sync and cleanup across entity types in dependency
// order. Execution is single-flight per instance: a start while a run is
// active is rejected immediately, never queued.
type Orchestrator struct {
	instanceID string
	syncer     entitySyncer
	cleanup    cleanupRunner
	log        *zap.Logger

	mu     sync.Mutex
	state  model.RunState
	cancel context.CancelFunc
	last   *model.RunReport
}

// NewOrchestrator constructs an orchestrator bound to one remote instance.
func NewOrchestrator(instanceID string, syncer entitySyncer, cleanup cleanupRunner, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		instanceID: instanceID,
		syncer:     syncer,
		cleanup:    cleanup,
		log:        log,
		state:      model.RunIdle,
	}
}

// RunIncremental starts an incremental run. Types that were never synced
// fall back to a full pass individually inside the syncer.
func (o *Orchestrator) RunIncremental(ctx context.Context) (model.RunReport, error) {
	return o.run(ctx, model.SyncIncremental)
}

// RunFull starts a full run.
func (o *Orchestrator) RunFull(ctx context.Context) (model.RunReport, error) {
	return o.run(ctx, model.SyncFull)
}

// Start reserves the single-flight slot synchronously, then executes the run
// in the background. A start while a run is active fails right here with
// errs.ErrAlreadyRunning instead of being swallowed by a detached goroutine.
func (o *Orchestrator) Start(ctx context.Context, mode model.SyncMode) error {
	runCtx, cancel, err := o.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		if _, err := o.execute(runCtx, cancel, mode); err != nil {
			o.log.Warn("background sync run ended with error",
				zap.String("mode", mode.String()), zap.Error(err))
		}
	}()
	return nil
}

// Status returns the current state and the last finished report, if any.
func (o *Orchestrator) Status() (model.RunState, *model.RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.last
}

// Cancel requests cooperative cancellation of the active run, if any. The
// run observes it at the next checkpoint (type start or page start).
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, mode model.SyncMode) (model.RunReport, error) {
	runCtx, cancel, err := o.begin(ctx)
	if err != nil {
		return model.RunReport{}, err
	}
	return o.execute(runCtx, cancel, mode)
}

// begin performs the Idle -> Running transition under the lock.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == model.RunRunning {
		return nil, nil, errs.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.state = model.RunRunning
	o.cancel = cancel
	return runCtx, cancel, nil
}

func (o *Orchestrator) execute(runCtx context.Context, cancel context.CancelFunc, mode model.SyncMode) (model.RunReport, error) {
	defer cancel()

	report := model.RunReport{
		InstanceID: o.instanceID,
		Mode:       mode,
		StartedAt:  time.Now().UTC(),
		TypeErrors: make(map[string]string),
	}
	o.log.Info("sync run started",
		zap.String("instance", o.instanceID),
		zap.String("mode", mode.String()),
	)

	cancelled := o.syncPhase(runCtx, mode, &report)
	if !cancelled {
		cancelled = o.cleanupPhase(runCtx, &report)
	}

	report.FinishedAt = time.Now().UTC()

	final := model.RunCompleted
	switch {
	case cancelled:
		final = model.RunCancelled
	case report.Failed():
		final = model.RunFailed
	}

	o.mu.Lock()
	o.state = final
	o.cancel = nil
	o.last = &report
	o.mu.Unlock()

	o.log.Info("sync run finished",
		zap.String("instance", o.instanceID),
		zap.String("state", final.String()),
		zap.Int("typeErrors", len(report.TypeErrors)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	switch final {
	case model.RunCancelled:
		return report, context.Canceled
	case model.RunFailed:
		return report, errors.New("sync run failed for one or more entity types")
	default:
		return report, nil
	}
}

// syncPhase runs each type strictly sequentially in dependency order. A
// failure in one type does not prevent attempting the rest; cancellation
// stops the run at the next type boundary.
func (o *Orchestrator) syncPhase(ctx context.Context, mode model.SyncMode, report *model.RunReport) (cancelled bool) {
	for _, t := range model.SyncOrder {
		if ctx.Err() != nil {
			return true
		}
		res, err := o.syncer.Sync(ctx, o.instanceID, t, mode)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			o.log.Error("entity type sync failed", zap.String("type", t.String()), zap.Error(err))
			report.TypeErrors[t.String()] = err.Error()
			continue
		}
		report.Sync = append(report.Sync, res)
	}
	return false
}

func (o *Orchestrator) cleanupPhase(ctx context.Context, report *model.RunReport) (cancelled bool) {
	for _, t := range model.SyncOrder {
		if ctx.Err() != nil {
			return true
		}
		res, err := o.cleanup.Run(ctx, t)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			o.log.Error("entity type cleanup failed", zap.String("type", t.String()), zap.Error(err))
			report.TypeErrors[t.String()] = err.Error()
			continue
		}
		report.Cleanup = append(report.Cleanup, res)
	}
	return false
}
