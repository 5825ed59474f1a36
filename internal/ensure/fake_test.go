package ensure

import (
	"context"
	"math"
	"sync"
	"time"
)

// fakeLight is one scripted device.
type fakeLight struct {
	available bool
	state     DeviceState

	// dropNext commands are acknowledged but not applied
	dropNext int
	// dropAll ignores every command
	dropAll bool
	// goneAfterSend makes the light unavailable once it has received a command
	goneAfterSend bool
	readErr       error
	// settle overrides the brightness percentage each applied command
	// lands at, one entry per command
	settle []int
}

// fakeHost is an in-memory Host that records every command.
type fakeHost struct {
	mu      sync.Mutex
	lights  map[string]*fakeLight
	groups  map[string][]string
	sent    []Command
	sendErr map[string]error // keyed by any device id in the command
	reads   int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		lights:  make(map[string]*fakeLight),
		groups:  make(map[string][]string),
		sendErr: make(map[string]error),
	}
}

func (h *fakeHost) addLight(id string, modes ...string) *fakeLight {
	if len(modes) == 0 {
		modes = []string{ColorModeColorTemp, ColorModeXY}
	}
	l := &fakeLight{
		available: true,
		state:     DeviceState{SupportedColorModes: modes},
	}
	h.lights[id] = l
	return l
}

func (h *fakeHost) Members(_ context.Context, id string) ([]string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.groups[id]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), m...), true, nil
}

func (h *fakeHost) IsDevice(_ context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.lights[id]
	return ok
}

func (h *fakeHost) IsAvailable(_ context.Context, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lights[id]
	return ok && l.available
}

func (h *fakeHost) Send(_ context.Context, cmd Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sent = append(h.sent, cmd)
	for _, id := range cmd.DeviceIDs {
		if err, ok := h.sendErr[id]; ok {
			return err
		}
	}

	for _, id := range cmd.DeviceIDs {
		l, ok := h.lights[id]
		if !ok {
			continue
		}
		if l.goneAfterSend {
			l.available = false
		}
		if l.dropAll {
			continue
		}
		if l.dropNext > 0 {
			l.dropNext--
			continue
		}
		apply(&l.state, cmd)
		if len(l.settle) > 0 && l.state.On {
			l.state.Brightness = int(math.Round(float64(l.settle[0]) * 255 / 100))
			l.settle = l.settle[1:]
		}
	}
	return nil
}

func apply(st *DeviceState, cmd Command) {
	st.On = cmd.State == StateOn
	if !st.On {
		return
	}
	a := cmd.Attributes
	if a.BrightnessPct != nil {
		st.Brightness = int(math.Round(float64(*a.BrightnessPct) * 255 / 100))
	}
	if a.RGB != nil {
		c := *a.RGB
		st.RGB = &c
		st.ColorMode = ColorModeXY
	}
	if a.ColorTempKelvin != nil {
		k := *a.ColorTempKelvin
		st.ColorTempKelvin = &k
		st.ColorMode = ColorModeColorTemp
	}
	st.Effect = a.Effect
}

func (h *fakeHost) Read(_ context.Context, id string) (DeviceState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++

	l, ok := h.lights[id]
	if !ok || !l.available {
		return DeviceState{}, ErrUnavailable
	}
	if l.readErr != nil {
		return DeviceState{}, l.readErr
	}
	return l.state, nil
}

// sentTo returns the commands that included id, in send order.
func (h *fakeHost) sentTo(id string) []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Command
	for _, c := range h.sent {
		for _, d := range c.DeviceIDs {
			if d == id {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (h *fakeHost) commands() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Command(nil), h.sent...)
}

// fakeClock advances only when the pipeline sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// recordingSink collects records.
type recordingSink struct {
	mu      sync.Mutex
	records []OperationRecord
}

func (s *recordingSink) Record(rec OperationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []OperationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OperationRecord(nil), s.records...)
}

func newTestController(h *fakeHost, clock *fakeClock, opts ...Option) *Controller {
	base := []Option{WithClock(clock.now), WithSleeper(clock.sleep)}
	return NewController(h, append(base, opts...)...)
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }

func rgbPtr(r, g, b int) *RGB {
	c := RGB{r, g, b}
	return &c
}
