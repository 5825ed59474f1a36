// Package script embeds a Lua VM for startup automation and operation hooks.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/eventbus"
	"github.com/dokzlo13/lightctl/internal/script/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// Work is executed on the Lua VM. All Lua access goes through it.
type Work func(ctx context.Context)

// Runtime owns one LState and the single goroutine allowed to touch it.
type Runtime struct {
	L      *lua.LState
	lights *modules.LightsModule

	workQueue chan Work

	// closing is closed once; senders select on it
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a runtime with the log and lights modules preloaded.
func NewRuntime(ensurer modules.Ensurer, presets modules.Presets, queueSize int) *Runtime {
	if queueSize <= 0 {
		queueSize = 100
	}
	r := &Runtime{
		L:         lua.NewState(),
		lights:    modules.NewLightsModule(ensurer, presets, "lua"),
		workQueue: make(chan Work, queueSize),
		closing:   make(chan struct{}),
	}
	r.L.PreloadModule("log", modules.NewLogModule().Loader)
	r.L.PreloadModule("lights", r.lights.Loader)
	return r
}

// Close stops accepting work and closes the Lua state.
// workQueue is left open so late senders never panic.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	r.L.Close()
}

// Do queues work without blocking. It reports false when the work was dropped.
func (r *Runtime) Do(ctx context.Context, work Work) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work and waits for it to finish.
func (r *Runtime) DoSync(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := Work(func(c context.Context) {
		done <- work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Run is the Lua worker loop. It returns when ctx ends or the runtime closes.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.execute(ctx, work)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.execute(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) execute(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx)
}

// RunFile executes a script on the worker.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("Running Lua script")
	return r.DoSync(ctx, func(context.Context) error {
		if err := r.L.DoFile(path); err != nil {
			return fmt.Errorf("lua script %s: %w", path, err)
		}
		return nil
	})
}

// RunString executes a chunk on the worker.
func (r *Runtime) RunString(ctx context.Context, src string) error {
	return r.DoSync(ctx, func(context.Context) error {
		return r.L.DoString(src)
	})
}

// Subscribe forwards finished operations to on_operation handlers.
func (r *Runtime) Subscribe(ctx context.Context, bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeOperationCompleted, eventbus.OperationHandler(func(rec ensure.OperationRecord) {
		r.Do(ctx, func(context.Context) {
			r.lights.HandleOperation(r.L, rec)
		})
	}))
}
