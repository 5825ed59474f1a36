package ensure

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by a StateReader when the device is offline
// or its state is unknown.
var ErrUnavailable = errors.New("device unavailable")

// Color modes reported by devices. rgb, hs and xy all satisfy an RGB request.
const (
	ColorModeRGB        = "rgb"
	ColorModeHS         = "hs"
	ColorModeXY         = "xy"
	ColorModeColorTemp  = "color_temp"
	ColorModeBrightness = "brightness"
	ColorModeOnOff      = "onoff"
)

// DeviceState is the abstract state a host reports for one light.
type DeviceState struct {
	On                  bool
	Brightness          int // raw 0-255
	ColorMode           string
	SupportedColorModes []string
	RGB                 *RGB
	ColorTempKelvin     *int
	Effect              string

	// Colour temperature range the device can render; zero means unknown.
	MinKelvin int
	MaxKelvin int
}

// clampKelvin limits k to the range the device reports it can render.
func (s DeviceState) clampKelvin(k int) int {
	if s.MinKelvin > 0 && k < s.MinKelvin {
		return s.MinKelvin
	}
	if s.MaxKelvin > 0 && k > s.MaxKelvin {
		return s.MaxKelvin
	}
	return k
}

// SupportsRGB reports whether the device can render an RGB colour.
func (s DeviceState) SupportsRGB() bool {
	return s.supports(ColorModeRGB, ColorModeHS, ColorModeXY)
}

// SupportsColorTemp reports whether the device can render a colour temperature.
func (s DeviceState) SupportsColorTemp() bool {
	return s.supports(ColorModeColorTemp)
}

func (s DeviceState) supports(modes ...string) bool {
	for _, m := range s.SupportedColorModes {
		for _, want := range modes {
			if m == want {
				return true
			}
		}
	}
	return false
}

// GroupResolver expands group identifiers one level deep.
type GroupResolver interface {
	// Members returns the member ids of id. isGroup is false when id does
	// not denote a group, in which case members is nil.
	Members(ctx context.Context, id string) (members []string, isGroup bool, err error)
}

// AvailabilityChecker classifies identifiers.
type AvailabilityChecker interface {
	// IsDevice reports whether id names a controllable light.
	IsDevice(ctx context.Context, id string) bool
	// IsAvailable reports whether the light is currently reachable.
	IsAvailable(ctx context.Context, id string) bool
}

// CommandIssuer sends one command covering one or more devices.
type CommandIssuer interface {
	Send(ctx context.Context, cmd Command) error
}

// StateReader reads back the current state of a light.
// It returns ErrUnavailable (possibly wrapped) for offline devices.
type StateReader interface {
	Read(ctx context.Context, id string) (DeviceState, error)
}

// Host bundles everything the pipeline needs from the platform.
type Host interface {
	GroupResolver
	AvailabilityChecker
	CommandIssuer
	StateReader
}

// OperationRecord is what a Sink receives once per finished operation.
type OperationRecord struct {
	Result   OperationResult
	State    TargetState
	Targets  []string
	Source   string
	Finished time.Time
}

// Sink receives operation records. Record must not block.
type Sink interface {
	Record(rec OperationRecord)
}
