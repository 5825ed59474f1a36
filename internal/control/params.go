// Package control turns caller-facing ensure_state parameters (HTTP bodies,
// Lua tables, stored presets) into pipeline requests.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// ErrInvalidParams is wrapped by every validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

// EntityList accepts either a single id or a list of ids in JSON.
type EntityList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *EntityList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
			return nil
		}
		*l = EntityList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("entity_id must be a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

// Override is a per-device settings entry.
type Override struct {
	EntityID string `json:"entity_id"`
	ensure.Settings
}

// Params is the wire shape of one ensure_state call. nil fields fall back to
// the configured defaults.
type Params struct {
	EntityID        EntityList  `json:"entity_id"`
	State           string      `json:"state"`
	BrightnessPct   *int        `json:"brightness_pct,omitempty"`
	RGBColor        *ensure.RGB `json:"rgb_color,omitempty"`
	ColorTempKelvin *int        `json:"color_temp_kelvin,omitempty"`
	Effect          *string     `json:"effect,omitempty"`
	Transition      *float64    `json:"transition,omitempty"`
	Targets         []Override  `json:"targets,omitempty"`

	BrightnessTolerance *int `json:"brightness_tolerance,omitempty"`
	RGBTolerance        *int `json:"rgb_tolerance,omitempty"`
	KelvinTolerance     *int `json:"kelvin_tolerance,omitempty"`

	DelayAfterSend        *float64 `json:"delay_after_send,omitempty"` // seconds
	MaxRetries            *int     `json:"max_retries,omitempty"`
	MaxRuntime            *float64 `json:"max_runtime,omitempty"` // seconds
	UseExponentialBackoff *bool    `json:"use_exponential_backoff,omitempty"`
	MaxBackoff            *float64 `json:"max_backoff,omitempty"` // seconds
	RetryScope            *string  `json:"retry_scope,omitempty"`
	SkipVerification      *bool    `json:"skip_verification,omitempty"`
	LogSuccess            *bool    `json:"log_success,omitempty"`
}

// Settings returns the call-level settings layer.
func (p Params) Settings() ensure.Settings {
	return ensure.Settings{
		BrightnessPct:   p.BrightnessPct,
		RGB:             p.RGBColor,
		ColorTempKelvin: p.ColorTempKelvin,
		Effect:          p.Effect,
		Transition:      p.Transition,
	}
}

// Overrides indexes Targets by entity id. Later entries win.
func (p Params) Overrides() map[string]ensure.Settings {
	if len(p.Targets) == 0 {
		return nil
	}
	out := make(map[string]ensure.Settings, len(p.Targets))
	for _, o := range p.Targets {
		id := strings.TrimSpace(o.EntityID)
		out[id] = ensure.MergeSettings(out[id], o.Settings)
	}
	return out
}

type intRange struct{ min, max int }

type floatRange struct{ min, max float64 }

var (
	brightnessRange    = intRange{1, 100}
	rgbChannelRange    = intRange{0, 255}
	kelvinRange        = intRange{1000, 10000}
	brightnessTolRange = intRange{0, 50}
	rgbTolRange        = intRange{0, 100}
	kelvinTolRange     = intRange{0, 1000}
	retriesRange       = intRange{1, 20}
	transitionRange    = floatRange{0, 300}
	delayRange         = floatRange{0.1, 60}
	runtimeRange       = floatRange{5, 600}
	backoffRange       = floatRange{1, 300}
)

// Validate checks every field and reports all problems at once.
func (p Params) Validate() error {
	var v validator

	if len(p.EntityID) == 0 {
		v.add("entity_id is required")
	}
	for _, id := range p.EntityID {
		if strings.TrimSpace(id) == "" {
			v.add("entity_id must not contain empty ids")
			break
		}
	}
	if _, err := ensure.ParseTargetState(p.State); err != nil {
		v.add(err.Error())
	}

	v.settings("", p.Settings())
	for i, o := range p.Targets {
		if strings.TrimSpace(o.EntityID) == "" {
			v.add(fmt.Sprintf("targets[%d].entity_id is required", i))
		}
		v.settings(fmt.Sprintf("targets[%d].", i), o.Settings)
	}

	v.intIn("brightness_tolerance", p.BrightnessTolerance, brightnessTolRange)
	v.intIn("rgb_tolerance", p.RGBTolerance, rgbTolRange)
	v.intIn("kelvin_tolerance", p.KelvinTolerance, kelvinTolRange)
	v.floatIn("delay_after_send", p.DelayAfterSend, delayRange)
	v.intIn("max_retries", p.MaxRetries, retriesRange)
	v.floatIn("max_runtime", p.MaxRuntime, runtimeRange)
	v.floatIn("max_backoff", p.MaxBackoff, backoffRange)

	if p.RetryScope != nil {
		switch ensure.RetryScope(*p.RetryScope) {
		case ensure.RetryBatch, ensure.RetryDevice:
		default:
			v.add(fmt.Sprintf("retry_scope must be batch or device, got %q", *p.RetryScope))
		}
	}

	return v.err()
}

type validator struct {
	problems []string
}

func (v *validator) add(msg string) {
	v.problems = append(v.problems, msg)
}

func (v *validator) intIn(name string, val *int, r intRange) {
	if val != nil && (*val < r.min || *val > r.max) {
		v.add(fmt.Sprintf("%s must be within [%d, %d], got %d", name, r.min, r.max, *val))
	}
}

func (v *validator) floatIn(name string, val *float64, r floatRange) {
	if val != nil && (*val < r.min || *val > r.max) {
		v.add(fmt.Sprintf("%s must be within [%g, %g], got %g", name, r.min, r.max, *val))
	}
}

func (v *validator) settings(prefix string, s ensure.Settings) {
	v.intIn(prefix+"brightness_pct", s.BrightnessPct, brightnessRange)
	v.intIn(prefix+"color_temp_kelvin", s.ColorTempKelvin, kelvinRange)
	v.floatIn(prefix+"transition", s.Transition, transitionRange)
	if s.RGB != nil {
		for _, c := range s.RGB {
			if c < rgbChannelRange.min || c > rgbChannelRange.max {
				v.add(fmt.Sprintf("%srgb_color channels must be within [0, 255], got %v", prefix, *s.RGB))
				break
			}
		}
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(v.problems, "; "))
}
