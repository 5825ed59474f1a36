package app

import (
	"context"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/eventbus"
	"github.com/dokzlo13/lightctl/internal/preset"
	"github.com/dokzlo13/lightctl/internal/script"
)

// ScriptService runs the optional startup Lua script and keeps its
// on_operation handlers alive.
type ScriptService struct {
	path    string
	Runtime *script.Runtime
	done    chan struct{}
}

// NewScriptService creates the runtime. Nothing runs until Start.
func NewScriptService(path string, svc *control.Service, presets *preset.Manager, queueSize int) *ScriptService {
	return &ScriptService{
		path:    path,
		Runtime: script.NewRuntime(svc, presets, queueSize),
	}
}

// Start launches the Lua worker, subscribes it to the bus and runs the script.
func (s *ScriptService) Start(ctx context.Context, bus *eventbus.Bus) error {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Runtime.Run(ctx)
	}()

	s.Runtime.Subscribe(ctx, bus)
	return s.Runtime.RunFile(ctx, s.path)
}

// Close waits for the worker to leave, then closes the Lua state.
// ctx given to Start must already be cancelled.
func (s *ScriptService) Close() {
	if s.done != nil {
		<-s.done
	}
	s.Runtime.Close()
}
