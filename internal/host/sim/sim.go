// Package sim is an in-memory light mesh. It stands in for real hardware
// in development and tests, and can drop commands to exercise retries.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/host"
)

// Light describes one simulated device.
type Light struct {
	ID          string
	Modes       []string // empty = brightness only
	Unavailable bool
}

// Options configures the mesh.
type Options struct {
	Lights   []Light
	Groups   map[string][]string
	DropRate float64 // 0..1
	Seed     int64
	Latency  time.Duration
}

type light struct {
	modes     []string
	available bool

	on     bool
	level  int // 0..254
	mode   string
	mired  int
	x, y   float64
	effect string
}

// Host implements ensure.Host in memory.
type Host struct {
	mu       sync.Mutex
	lights   map[string]*light
	groups   map[string][]string
	dropRate float64
	rng      *rand.Rand
	latency  time.Duration
	sent     int
	dropped  int
}

// New builds a mesh with every light off.
func New(opts Options) *Host {
	h := &Host{
		lights:   make(map[string]*light, len(opts.Lights)),
		groups:   make(map[string][]string, len(opts.Groups)),
		dropRate: opts.DropRate,
		rng:      rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)>>1|1)),
		latency:  opts.Latency,
	}
	for _, l := range opts.Lights {
		modes := l.Modes
		if len(modes) == 0 {
			modes = []string{ensure.ColorModeBrightness}
		}
		h.lights[l.ID] = &light{
			modes:     append([]string(nil), modes...),
			available: !l.Unavailable,
			mode:      ensure.ColorModeBrightness,
		}
	}
	for g, members := range opts.Groups {
		h.groups[g] = append([]string(nil), members...)
	}
	return h
}

// Members implements ensure.GroupResolver.
func (h *Host) Members(_ context.Context, id string) ([]string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[id]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), members...), true, nil
}

// IsDevice implements ensure.AvailabilityChecker.
func (h *Host) IsDevice(_ context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.lights[id]
	return ok
}

// IsAvailable implements ensure.AvailabilityChecker.
func (h *Host) IsAvailable(_ context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lights[id]
	return ok && l.available
}

// SetAvailable marks a light reachable or not.
func (h *Host) SetAvailable(id string, available bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lights[id]
	if !ok {
		return fmt.Errorf("unknown light %q", id)
	}
	l.available = available
	return nil
}

// Send implements ensure.CommandIssuer. Each addressed light independently
// ignores the command with probability DropRate.
func (h *Host) Send(ctx context.Context, cmd ensure.Command) error {
	if h.latency > 0 {
		t := time.NewTimer(h.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range cmd.DeviceIDs {
		l, ok := h.lights[id]
		if !ok {
			return fmt.Errorf("unknown light %q", id)
		}
		h.sent++
		if !l.available {
			continue
		}
		if h.dropRate > 0 && h.rng.Float64() < h.dropRate {
			h.dropped++
			log.Debug().Str("light", id).Msg("Simulated command drop")
			continue
		}
		l.apply(cmd)
	}
	return nil
}

func (l *light) apply(cmd ensure.Command) {
	l.on = cmd.State == ensure.StateOn
	if !l.on {
		return
	}
	a := cmd.Attributes
	if a.BrightnessPct != nil {
		l.level = host.PctToLevel(*a.BrightnessPct, 254)
	}
	switch {
	case a.RGB != nil && l.supports(ensure.ColorModeXY, ensure.ColorModeHS, ensure.ColorModeRGB):
		l.x, l.y = host.RGBToXY(*a.RGB)
		l.mode = ensure.ColorModeXY
	case a.ColorTempKelvin != nil && l.supports(ensure.ColorModeColorTemp):
		l.mired = host.KelvinToMired(*a.ColorTempKelvin)
		l.mode = ensure.ColorModeColorTemp
	}
	if a.Effect != "" {
		l.effect = a.Effect
	}
}

func (l *light) supports(modes ...string) bool {
	for _, m := range l.modes {
		for _, want := range modes {
			if m == want {
				return true
			}
		}
	}
	return false
}

// Read implements ensure.StateReader.
func (h *Host) Read(_ context.Context, id string) (ensure.DeviceState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.lights[id]
	if !ok || !l.available {
		return ensure.DeviceState{}, fmt.Errorf("%s: %w", id, ensure.ErrUnavailable)
	}

	st := ensure.DeviceState{
		On:                  l.on,
		ColorMode:           l.mode,
		SupportedColorModes: append([]string(nil), l.modes...),
		Effect:              l.effect,
	}
	if l.on {
		st.Brightness = host.LevelToRaw(l.level, 254)
	}
	if l.supports(ensure.ColorModeColorTemp) {
		st.MinKelvin, st.MaxKelvin = host.KelvinRange(host.MinMired, host.MaxMired)
	}
	switch l.mode {
	case ensure.ColorModeXY:
		c := host.XYToRGB(l.x, l.y)
		st.RGB = &c
	case ensure.ColorModeColorTemp:
		k := host.MiredToKelvin(l.mired)
		st.ColorTempKelvin = &k
	}
	return st, nil
}

// Stats reports how many per-device commands were sent and dropped.
func (h *Host) Stats() (sent, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent, h.dropped
}

// LightIDs returns every simulated light, sorted.
func (h *Host) LightIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.lights))
	for id := range h.lights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
