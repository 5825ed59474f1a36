// Package hue adapts a Philips Hue bridge (v1 API) to the ensure pipeline.
// Lights are addressed as "light.<n>" and rooms/zones as "group.<n>".
package hue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/host"
)

const (
	lightPrefix = "light."
	groupPrefix = "group."

	maxBri = 254
)

// Bridge is the subset of *huego.Bridge the host uses.
type Bridge interface {
	GetLight(i int) (*huego.Light, error)
	GetGroup(i int) (*huego.Group, error)
	SetLightState(i int, l huego.State) (*huego.Response, error)
}

// Host implements ensure.Host on top of a Hue bridge.
type Host struct {
	bridge  Bridge
	limiter *rate.Limiter
}

// New connects to the bridge at address with the given application key.
func New(address, token string, rateLimitRPS float64) *Host {
	return NewWithBridge(huego.New(address, token), rateLimitRPS)
}

// NewWithBridge wraps an existing bridge client.
func NewWithBridge(bridge Bridge, rateLimitRPS float64) *Host {
	if rateLimitRPS <= 0 {
		rateLimitRPS = 10
	}
	burst := max(int(rateLimitRPS), 1)
	return &Host{
		bridge:  bridge,
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
	}
}

// Members implements ensure.GroupResolver.
func (h *Host) Members(ctx context.Context, id string) ([]string, bool, error) {
	n, ok := parseID(id, groupPrefix)
	if !ok {
		return nil, false, nil
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, true, err
	}
	group, err := h.bridge.GetGroup(n)
	if err != nil {
		return nil, true, fmt.Errorf("get group %d: %w", n, err)
	}
	members := make([]string, 0, len(group.Lights))
	for _, l := range group.Lights {
		members = append(members, lightPrefix+l)
	}
	return members, true, nil
}

// IsDevice implements ensure.AvailabilityChecker.
func (h *Host) IsDevice(ctx context.Context, id string) bool {
	_, err := h.light(ctx, id)
	return err == nil
}

// IsAvailable implements ensure.AvailabilityChecker.
func (h *Host) IsAvailable(ctx context.Context, id string) bool {
	l, err := h.light(ctx, id)
	return err == nil && l.State != nil && l.State.Reachable
}

// Send implements ensure.CommandIssuer. The bridge has no multi-light call
// outside of groups, so each device gets its own request.
func (h *Host) Send(ctx context.Context, cmd ensure.Command) error {
	state := toState(cmd)

	var errs []error
	for _, id := range cmd.DeviceIDs {
		n, ok := parseID(id, lightPrefix)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: not a hue light", id))
			continue
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := h.bridge.SetLightState(n, state); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		log.Debug().Str("light", id).Bool("on", state.On).Uint8("bri", state.Bri).Msg("Sent light state")
	}
	return errors.Join(errs...)
}

// Read implements ensure.StateReader.
func (h *Host) Read(ctx context.Context, id string) (ensure.DeviceState, error) {
	l, err := h.light(ctx, id)
	if err != nil {
		return ensure.DeviceState{}, err
	}
	if l.State == nil || !l.State.Reachable {
		return ensure.DeviceState{}, fmt.Errorf("%s: %w", id, ensure.ErrUnavailable)
	}
	return fromLight(l), nil
}

func (h *Host) light(ctx context.Context, id string) (*huego.Light, error) {
	n, ok := parseID(id, lightPrefix)
	if !ok {
		return nil, fmt.Errorf("%s: not a hue light", id)
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return h.bridge.GetLight(n)
}

func parseID(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func toState(cmd ensure.Command) huego.State {
	state := huego.State{On: cmd.State == ensure.StateOn}
	if !state.On {
		return state
	}

	a := cmd.Attributes
	if a.BrightnessPct != nil {
		state.Bri = uint8(host.PctToLevel(*a.BrightnessPct, maxBri))
	}
	switch {
	case a.RGB != nil:
		x, y := host.RGBToXY(*a.RGB)
		state.Xy = []float32{float32(x), float32(y)}
	case a.ColorTempKelvin != nil:
		state.Ct = uint16(host.KelvinToMired(*a.ColorTempKelvin))
	}
	if a.Effect != "" {
		state.Effect = a.Effect
	}
	if cmd.Transition > 0 {
		// deciseconds
		state.TransitionTime = uint16(math.Round(cmd.Transition.Seconds() * 10))
	}
	return state
}

// capabilities maps the bridge's light type to colour modes.
func capabilities(lightType string) []string {
	switch strings.ToLower(lightType) {
	case "extended color light":
		return []string{ensure.ColorModeXY, ensure.ColorModeColorTemp}
	case "color light":
		return []string{ensure.ColorModeXY}
	case "color temperature light":
		return []string{ensure.ColorModeColorTemp}
	case "dimmable light":
		return []string{ensure.ColorModeBrightness}
	}
	return []string{ensure.ColorModeOnOff}
}

func fromLight(l *huego.Light) ensure.DeviceState {
	s := l.State
	st := ensure.DeviceState{
		On:                  s.On,
		SupportedColorModes: capabilities(l.Type),
		Effect:              s.Effect,
	}
	if s.On {
		st.Brightness = host.LevelToRaw(int(s.Bri), maxBri)
	}
	if st.SupportsColorTemp() {
		st.MinKelvin, st.MaxKelvin = host.KelvinRange(host.MinMired, host.MaxMired)
	}

	// the bridge keeps stale values for inactive modes; report the live one
	switch s.ColorMode {
	case "ct":
		st.ColorMode = ensure.ColorModeColorTemp
		if s.Ct > 0 {
			k := host.MiredToKelvin(int(s.Ct))
			st.ColorTempKelvin = &k
		}
	case "xy", "hs":
		st.ColorMode = ensure.ColorModeXY
		if len(s.Xy) == 2 {
			c := host.XYToRGB(float64(s.Xy[0]), float64(s.Xy[1]))
			st.RGB = &c
		}
	default:
		st.ColorMode = ensure.ColorModeBrightness
	}
	return st
}
