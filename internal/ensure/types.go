// Package ensure drives a set of lights to a target state over unreliable
// transports: resolve, build targets, batch, dispatch, then verify and retry.
package ensure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// TargetState is the on/off state an operation drives lights to.
type TargetState string

const (
	StateOn  TargetState = "on"
	StateOff TargetState = "off"
)

// ErrInvalidState is returned when a state string is not "on" or "off".
var ErrInvalidState = errors.New("invalid state")

// ParseTargetState parses "on"/"off" (case-insensitive, trimmed).
func ParseTargetState(s string) (TargetState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return StateOn, nil
	case "off":
		return StateOff, nil
	}
	return "", fmt.Errorf("%w '%s': must be 'on' or 'off'", ErrInvalidState, s)
}

// RGB is a colour triple, each channel 0-255.
type RGB [3]int

// ColorTolerance bounds how far a reported value may drift from the target.
type ColorTolerance struct {
	Brightness int `json:"brightness_tolerance" yaml:"brightness"` // percent points
	RGB        int `json:"rgb_tolerance" yaml:"rgb"`               // per channel
	Kelvin     int `json:"kelvin_tolerance" yaml:"kelvin"`
}

// DefaultTolerance matches what most Zigbee bulbs can hold after a round trip.
func DefaultTolerance() ColorTolerance {
	return ColorTolerance{Brightness: 3, RGB: 10, Kelvin: 150}
}

// Settings is a sparse set of light attributes. nil = not specified.
// The same shape serves as the defaults layer and as each per-device override.
type Settings struct {
	BrightnessPct   *int     `json:"brightness_pct,omitempty"`
	RGB             *RGB     `json:"rgb_color,omitempty"`
	ColorTempKelvin *int     `json:"color_temp_kelvin,omitempty"`
	Effect          *string  `json:"effect,omitempty"`
	Transition      *float64 `json:"transition,omitempty"` // seconds
}

// Attributes is the payload of a single "set attributes" command.
type Attributes struct {
	BrightnessPct   *int   `json:"brightness_pct,omitempty"`
	RGB             *RGB   `json:"rgb_color,omitempty"`
	ColorTempKelvin *int   `json:"color_temp_kelvin,omitempty"`
	Effect          string `json:"effect,omitempty"`
}

// Command is what the pipeline hands to a CommandIssuer.
type Command struct {
	DeviceIDs  []string
	State      TargetState
	Attributes Attributes
	Transition time.Duration // 0 = omit
}

// CommandPayload is implemented by anything that can be expressed as a command:
// a single DeviceTarget or a whole DispatchBatch.
type CommandPayload interface {
	Payload(includeTransition bool) Command
}

// DeviceTarget is the fully-resolved desired state for one device.
type DeviceTarget struct {
	DeviceID        string
	State           TargetState
	BrightnessPct   int
	RGB             *RGB
	ColorTempKelvin *int
	Effect          string
	Transition      time.Duration
}

// Payload implements CommandPayload.
func (t DeviceTarget) Payload(includeTransition bool) Command {
	return buildCommand([]string{t.DeviceID}, t.State, t.BrightnessPct, t.RGB, t.ColorTempKelvin, t.Effect, t.Transition, includeTransition)
}

// DispatchBatch is a set of devices that receive one shared command.
type DispatchBatch struct {
	DeviceIDs       []string
	State           TargetState
	BrightnessPct   int
	RGB             *RGB
	ColorTempKelvin *int
	Effect          string
	Transition      time.Duration
	FirstAttempt    bool
}

// Payload implements CommandPayload.
func (b DispatchBatch) Payload(includeTransition bool) Command {
	return buildCommand(b.DeviceIDs, b.State, b.BrightnessPct, b.RGB, b.ColorTempKelvin, b.Effect, b.Transition, includeTransition)
}

func buildCommand(ids []string, state TargetState, bri int, rgb *RGB, kelvin *int, effect string, transition time.Duration, includeTransition bool) Command {
	cmd := Command{
		DeviceIDs: append([]string(nil), ids...),
		State:     state,
	}
	if state == StateOff {
		// turning off takes no parameters
		return cmd
	}

	b := bri
	cmd.Attributes.BrightnessPct = &b
	if rgb != nil {
		c := *rgb
		cmd.Attributes.RGB = &c
	} else if kelvin != nil {
		k := *kelvin
		cmd.Attributes.ColorTempKelvin = &k
	}
	cmd.Attributes.Effect = effect

	if includeTransition && transition > 0 {
		cmd.Transition = transition
	}
	return cmd
}

// VerificationResult is the outcome of comparing one device against its target.
type VerificationResult int

const (
	VerifySuccess VerificationResult = iota
	VerifyWrongState
	VerifyWrongBrightness
	VerifyWrongColor
	VerifyUnavailable
	VerifyError
)

func (r VerificationResult) String() string {
	switch r {
	case VerifySuccess:
		return "success"
	case VerifyWrongState:
		return "wrong_state"
	case VerifyWrongBrightness:
		return "brightness"
	case VerifyWrongColor:
		return "color"
	case VerifyUnavailable:
		return "unavailable"
	case VerifyError:
		return "error"
	}
	return fmt.Sprintf("VerificationResult(%d)", int(r))
}

// settled reports whether the device needs no further commands.
func (r VerificationResult) settled() bool {
	return r == VerifySuccess || r == VerifyUnavailable
}

// RetryScope selects the granularity at which failed verification is retried.
type RetryScope string

const (
	// RetryBatch re-sends every member of a batch when any member fails.
	RetryBatch RetryScope = "batch"
	// RetryDevice re-sends only the devices that failed.
	RetryDevice RetryScope = "device"
)

// RetryConfig controls the dispatch/verify loop.
type RetryConfig struct {
	DelayAfterSend        time.Duration
	MaxRetries            int
	MaxRuntime            time.Duration
	UseExponentialBackoff bool
	MaxBackoff            time.Duration
	Scope                 RetryScope // "" = RetryBatch
}

// DefaultRetryConfig returns the built-in retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		DelayAfterSend:        2 * time.Second,
		MaxRetries:            3,
		MaxRuntime:            60 * time.Second,
		UseExponentialBackoff: false,
		MaxBackoff:            30 * time.Second,
		Scope:                 RetryBatch,
	}
}

// ResultCode classifies how an operation ended.
type ResultCode string

const (
	ResultSuccess         ResultCode = "success"
	ResultFailed          ResultCode = "failed"
	ResultTimeout         ResultCode = "timeout"
	ResultError           ResultCode = "error"
	ResultNoValidEntities ResultCode = "no_valid_entities"
)

// OperationResult is the only value an ensure-state call returns.
type OperationResult struct {
	OperationID      string        `json:"operation_id"`
	Success          bool          `json:"success"`
	Code             ResultCode    `json:"result"`
	Message          string        `json:"message"`
	Attempts         int           `json:"attempts"`
	TotalDevices     int           `json:"total_lights"`
	FailedDeviceIDs  []string      `json:"failed_lights"`
	SkippedDeviceIDs []string      `json:"skipped_lights"`
	Elapsed          time.Duration `json:"-"`
	Verified         bool          `json:"verified"`
}

// MarshalJSON adds elapsed_seconds rounded to two decimals and keeps id lists non-null.
func (r OperationResult) MarshalJSON() ([]byte, error) {
	type plain OperationResult
	out := struct {
		plain
		ElapsedSeconds float64 `json:"elapsed_seconds"`
	}{
		plain:          plain(r),
		ElapsedSeconds: math.Round(r.Elapsed.Seconds()*100) / 100,
	}
	if out.FailedDeviceIDs == nil {
		out.FailedDeviceIDs = []string{}
	}
	if out.SkippedDeviceIDs == nil {
		out.SkippedDeviceIDs = []string{}
	}
	return json.Marshal(out)
}
