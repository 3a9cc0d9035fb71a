package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/cache"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/retry"
	"camstream/pkg/tracing"

	"go.uber.org/zap"
)

var errTombstoned = errors.New("view was destroyed")

// Runner is an Executor that can also run a function and wait for it.
type Runner interface {
	ports.Executor
	Do(ctx context.Context, fn func()) error
}

type RegistryConfig struct {
	LookupAttempts  int
	LookupBaseDelay time.Duration
	TombstoneTTL    time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		LookupAttempts:  5,
		LookupBaseDelay: 100 * time.Millisecond,
		TombstoneTTL:    30 * time.Second,
	}
}

// ViewManager is the host-side registry of views. Commands for a tag that is
// not registered yet are retried with a linear backoff before being dropped.
type ViewManager struct {
	exec       Runner
	cfg        RegistryConfig
	controller ControllerConfig
	deps       ControllerDeps
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger

	views      map[int]*StreamController
	tombstones *cache.Cache[int, time.Time]
	lookups    map[int]func()
	lookupSeq  int
	nextTag    int
	closed     bool
}

// NewViewManager builds a registry whose views share one permission
// negotiator. deps.Exec is replaced by exec.
func NewViewManager(exec Runner, cfg RegistryConfig, controller ControllerConfig, deps ControllerDeps) *ViewManager {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Exec = exec
	if deps.Negotiator == nil {
		deps.Negotiator = NewPermissionNegotiator(exec, deps.Oracle, deps.Metrics, deps.Logger)
	}

	return &ViewManager{
		exec:       exec,
		cfg:        cfg,
		controller: controller,
		deps:       deps,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		views:      make(map[int]*StreamController),
		tombstones: cache.New[int, time.Time](cfg.TombstoneTTL, cache.WithClock(deps.Now)),
		lookups:    make(map[int]func()),
	}
}

// CreateView registers a view under a fresh tag.
func (vm *ViewManager) CreateView(ctx context.Context) (int, error) {
	var tag int
	var err error
	doErr := vm.exec.Do(ctx, func() {
		if vm.closed {
			err = apperrors.NewServiceUnavailableError("view manager closed")
			return
		}
		for {
			vm.nextTag++
			if _, taken := vm.views[vm.nextTag]; !taken {
				break
			}
		}
		tag = vm.nextTag
		vm.register(tag)
	})
	if doErr != nil {
		return 0, doErr
	}
	return tag, err
}

// CreateViewWithTag registers a view under a host-chosen tag.
func (vm *ViewManager) CreateViewWithTag(ctx context.Context, tag int) error {
	var err error
	doErr := vm.exec.Do(ctx, func() {
		switch {
		case vm.closed:
			err = apperrors.NewServiceUnavailableError("view manager closed")
		case tag <= 0:
			err = apperrors.NewInvalidInputError("view tag must be positive")
		case vm.views[tag] != nil:
			err = apperrors.NewConflictError(fmt.Sprintf("view %d already exists", tag))
		default:
			vm.register(tag)
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (vm *ViewManager) register(tag int) {
	vm.tombstones.Delete(tag)
	vm.views[tag] = NewStreamController(tag, vm.controller, vm.deps)
	vm.metrics.ActiveViews(len(vm.views))
	vm.logger.Infow("View created", "view_tag", tag)
}

// DestroyView tears the view down and tombstones its tag so late commands
// are dropped without lookup retries.
func (vm *ViewManager) DestroyView(ctx context.Context, tag int) error {
	var err error
	doErr := vm.exec.Do(ctx, func() {
		c, ok := vm.views[tag]
		if !ok {
			err = apperrors.NewViewNotFoundError(tag)
			return
		}
		c.Close()
		delete(vm.views, tag)
		vm.tombstones.Purge()
		vm.tombstones.Set(tag, vm.deps.Now())
		vm.metrics.ActiveViews(len(vm.views))
		vm.logger.Infow("View destroyed", "view_tag", tag)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Dispatch queues cmd for its view and returns without waiting. Only an
// unknown command name is rejected synchronously.
func (vm *ViewManager) Dispatch(ctx context.Context, cmd domain.Command) error {
	if !domain.KnownCommand(cmd.Name) {
		return apperrors.WrapError(domain.ErrUnknownCommand, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown command %q", cmd.Name), http.StatusBadRequest)
	}
	vm.exec.Post(func() { vm.route(ctx, cmd) })
	return nil
}

func (vm *ViewManager) route(ctx context.Context, cmd domain.Command) {
	if vm.closed {
		return
	}

	vm.lookupSeq++
	id := vm.lookupSeq
	started := vm.deps.Now()
	finished := false

	cfg := retry.LinearConfig(vm.cfg.LookupAttempts, vm.cfg.LookupBaseDelay)
	cfg.NonRetryableErrors = []error{errTombstoned}

	cancel := retry.Schedule(vm.exec, cfg, func(attempt int) error {
		if attempt > 1 {
			vm.metrics.LookupRetry()
		}
		if vm.tombstones.Contains(cmd.ViewTag) {
			return errTombstoned
		}
		c, ok := vm.views[cmd.ViewTag]
		if !ok {
			return domain.ErrViewNotFound
		}

		_, span := tracing.TraceCommand(ctx, string(cmd.Name), cmd.ViewTag)
		c.Handle(cmd)
		span.End()
		return nil
	}, func(err error) {
		finished = true
		delete(vm.lookups, id)
		vm.metrics.CommandHandled(cmd.Name, vm.deps.Now().Sub(started), err)
		if err == nil {
			return
		}
		appErr := apperrors.NewViewNotFoundError(cmd.ViewTag)
		appErr.Cause = err
		vm.logger.Warnw("Dropping command for unknown view",
			"view_tag", cmd.ViewTag,
			"command", cmd.Name,
			"code", appErr.Code,
			"error", err,
		)
	})

	if !finished {
		vm.lookups[id] = cancel
	}
}

// Snapshot returns a copy of the view state.
func (vm *ViewManager) Snapshot(ctx context.Context, tag int) (domain.ViewSnapshot, error) {
	var snap domain.ViewSnapshot
	var err error
	doErr := vm.exec.Do(ctx, func() {
		c, ok := vm.views[tag]
		if !ok {
			err = apperrors.NewViewNotFoundError(tag)
			return
		}
		snap = c.Snapshot()
	})
	if doErr != nil {
		return snap, doErr
	}
	return snap, err
}

// Views lists registered tags in ascending order.
func (vm *ViewManager) Views(ctx context.Context) []int {
	var tags []int
	_ = vm.exec.Do(ctx, func() {
		for tag := range vm.views {
			tags = append(tags, tag)
		}
	})
	sort.Ints(tags)
	return tags
}

// Close cancels pending lookups and tears down every view.
func (vm *ViewManager) Close(ctx context.Context) error {
	return vm.exec.Do(ctx, func() {
		if vm.closed {
			return
		}
		vm.closed = true
		for id, cancel := range vm.lookups {
			cancel()
			delete(vm.lookups, id)
		}
		for tag, c := range vm.views {
			c.Close()
			delete(vm.views, tag)
		}
		vm.deps.Negotiator.Close()
		vm.tombstones.Stop()
		vm.metrics.ActiveViews(0)
	})
}
