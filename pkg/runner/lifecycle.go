package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("runner: invalid state transition")
	ErrDrainTimeout = errors.New("runner: drain timeout")
)

const defaultDrainTimeout = 10 * time.Second

// LifecycleRunner blocks in Run until its context ends or Stop is called,
// then drains exactly once within the drain timeout.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc

	drainOnce sync.Once
	drainErr  error

	bannerOut   io.Writer
	bannerTitle string
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}
	return &LifecycleRunner{hooks: hooks, drainer: drainer, timeout: timeout}
}

// WithBanner prints the startup banner to w when Run begins.
func (r *LifecycleRunner) WithBanner(w io.Writer, title string) *LifecycleRunner {
	r.bannerOut = w
	r.bannerTitle = title
	return r
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.State() >= StateDraining {
		cancel()
	}

	PrintBanner(r.bannerOut, r.bannerTitle)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	<-runCtx.Done()
	return r.drain()
}

// Stop cancels a running Run and drains. Calling it before Run drains
// immediately and later Run calls fail.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.drain()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) drain() error {
	r.drainOnce.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			r.drainErr = r.runDrainer(ctx)
			cancel()
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.drainErr
}

// runDrainer gives up when ctx expires even if the drainer ignores it.
func (r *LifecycleRunner) runDrainer(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- r.drainer.Drain(ctx) }()
	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrDrainTimeout, err)
		}
		return err
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}
