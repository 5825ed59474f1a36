package modules

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/preset"
)

// Ensurer runs ensure_state parameters. *control.Service satisfies it.
type Ensurer interface {
	EnsureState(ctx context.Context, p control.Params, source string) (ensure.OperationResult, error)
}

// Presets is the part of *preset.Manager scripts can reach.
type Presets interface {
	Activate(ctx context.Context, nameOrID string) (ensure.OperationResult, error)
	Capture(ctx context.Context, name string, ids []string) (preset.Preset, error)
}

// LightsModule is the "lights" module:
//
//	local lights = require("lights")
//	local res = lights.ensure_state({ entity_id = {"light.a"}, state = "on", brightness_pct = 40 })
//	lights.activate_preset("Evening")
//	lights.capture_preset("Snapshot", {"light.a", "light.b"})
//	lights.on_operation(function(op) ... end)
type LightsModule struct {
	ensurer  Ensurer
	presets  Presets
	source   string
	handlers []*lua.LFunction
}

// NewLightsModule creates the module. source tags every operation it starts.
func NewLightsModule(ensurer Ensurer, presets Presets, source string) *LightsModule {
	return &LightsModule{ensurer: ensurer, presets: presets, source: source}
}

// Loader is the module loader for Lua
func (m *LightsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "ensure_state", L.NewFunction(m.ensureState))
	L.SetField(mod, "activate_preset", L.NewFunction(m.activatePreset))
	L.SetField(mod, "capture_preset", L.NewFunction(m.capturePreset))
	L.SetField(mod, "on_operation", L.NewFunction(m.onOperation))

	L.Push(mod)
	return 1
}

// ensure_state(params) -> result | nil, err
func (m *LightsModule) ensureState(L *lua.LState) int {
	tbl := L.CheckTable(1)

	var p control.Params
	if err := decodeTable(tbl, &p); err != nil {
		return pushError(L, err)
	}
	res, err := m.ensurer.EnsureState(luaContext(L), p, m.source)
	if err != nil {
		return pushError(L, err)
	}
	return pushValue(L, res)
}

// activate_preset(name_or_id) -> result | nil, err
func (m *LightsModule) activatePreset(L *lua.LState) int {
	name := L.CheckString(1)
	res, err := m.presets.Activate(luaContext(L), name)
	if err != nil {
		return pushError(L, err)
	}
	return pushValue(L, res)
}

// capture_preset(name, ids) -> id | nil, err
func (m *LightsModule) capturePreset(L *lua.LState) int {
	name := L.CheckString(1)
	tbl := L.CheckTable(2)

	var ids []string
	tbl.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			ids = append(ids, string(s))
		}
	})

	p, err := m.presets.Capture(luaContext(L), name, ids)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LString(p.ID))
	return 1
}

// on_operation(fn) registers fn to receive every finished operation.
func (m *LightsModule) onOperation(L *lua.LState) int {
	m.handlers = append(m.handlers, L.CheckFunction(1))
	return 0
}

// HandleOperation calls the registered handlers. Must run on the Lua worker.
func (m *LightsModule) HandleOperation(L *lua.LState, rec ensure.OperationRecord) {
	if len(m.handlers) == 0 {
		return
	}
	arg, err := encodeValue(L, rec.Result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to convert operation for Lua")
		return
	}
	if tbl, ok := arg.(*lua.LTable); ok {
		tbl.RawSetString("state", lua.LString(rec.State))
		tbl.RawSetString("source", lua.LString(rec.Source))
	}

	for _, fn := range m.handlers {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg); err != nil {
			log.Error().Err(err).Str("op", rec.Result.OperationID).Msg("Lua operation handler failed")
		}
	}
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func pushValue(L *lua.LState, v any) int {
	lv, err := encodeValue(L, v)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lv)
	return 1
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
