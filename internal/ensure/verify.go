package ensure

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ColorCheck is the outcome of comparing one colour mode.
// NotApplicable is a distinct arm: the device cannot render the requested mode.
type ColorCheck int

const (
	ColorMatch ColorCheck = iota
	ColorMismatch
	ColorNotApplicable
)

func (c ColorCheck) String() string {
	switch c {
	case ColorMatch:
		return "match"
	case ColorMismatch:
		return "mismatch"
	case ColorNotApplicable:
		return "n/a"
	}
	return "unknown"
}

// ok reports whether the check does not count as a failure.
func (c ColorCheck) ok() bool {
	return c == ColorMatch || c == ColorNotApplicable
}

// BrightnessPct converts a raw 0-255 brightness to a rounded percentage.
func BrightnessPct(raw int) int {
	return int(math.Round(float64(raw) / 255 * 100))
}

// withinTolerance reports whether actual is in [expected-tol, expected+tol].
func withinTolerance(expected, actual, tol int) bool {
	return expected-tol <= actual && actual <= expected+tol
}

// CheckRGB compares the hue and saturation of the reported colour against
// the requested one. Intensity is left to the brightness check.
func CheckRGB(want RGB, st DeviceState, tol int) ColorCheck {
	if !st.SupportsRGB() {
		return ColorNotApplicable
	}
	if st.RGB == nil {
		return ColorMismatch
	}
	w, got := FullBrightness(want), FullBrightness(*st.RGB)
	for i := range w {
		if !withinTolerance(w[i], got[i], tol) {
			return ColorMismatch
		}
	}
	return ColorMatch
}

// CheckKelvin compares the reported colour temperature against the requested one.
func CheckKelvin(want int, st DeviceState, tol int) ColorCheck {
	if !st.SupportsColorTemp() {
		return ColorNotApplicable
	}
	if st.ColorTempKelvin == nil {
		return ColorMismatch
	}
	want = st.clampKelvin(want)
	if !withinTolerance(want, *st.ColorTempKelvin, tol) {
		return ColorMismatch
	}
	return ColorMatch
}

// Verify compares one reported state with its target. It never performs I/O.
func Verify(t DeviceTarget, st DeviceState, tol ColorTolerance) VerificationResult {
	if t.State == StateOff {
		if st.On {
			return VerifyWrongState
		}
		return VerifySuccess
	}

	if !st.On {
		return VerifyWrongState
	}

	if !withinTolerance(t.BrightnessPct, BrightnessPct(st.Brightness), tol.Brightness) {
		return VerifyWrongBrightness
	}

	hasRGB := t.RGB != nil
	hasKelvin := t.ColorTempKelvin != nil
	if !hasRGB && !hasKelvin {
		return VerifySuccess
	}

	// any requested mode that matches or cannot apply is enough
	if hasRGB && CheckRGB(*t.RGB, st, tol.RGB).ok() {
		return VerifySuccess
	}
	if hasKelvin && CheckKelvin(*t.ColorTempKelvin, st, tol.Kelvin).ok() {
		return VerifySuccess
	}
	return VerifyWrongColor
}

// VerifyAll reads every target concurrently and returns a result per device id.
func VerifyAll(ctx context.Context, reader StateReader, targets []DeviceTarget, tol ColorTolerance, logger zerolog.Logger) map[string]VerificationResult {
	results := make([]VerificationResult, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = verifyOne(ctx, reader, t, tol, logger)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]VerificationResult, len(targets))
	for i, t := range targets {
		out[t.DeviceID] = results[i]
	}
	return out
}

func verifyOne(ctx context.Context, reader StateReader, t DeviceTarget, tol ColorTolerance, logger zerolog.Logger) (res VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("device", t.DeviceID).Msg("State read panicked")
			res = VerifyError
		}
	}()

	st, err := reader.Read(ctx, t.DeviceID)
	if errors.Is(err, ErrUnavailable) {
		logger.Warn().Str("device", t.DeviceID).Msg("Device unavailable, skipping")
		return VerifyUnavailable
	}
	if err != nil {
		logger.Error().Err(err).Str("device", t.DeviceID).Msg("Failed to read device state")
		return VerifyError
	}

	res = Verify(t, st, tol)
	logger.Debug().
		Str("device", t.DeviceID).
		Bool("on", st.On).
		Int("brightness_pct", BrightnessPct(st.Brightness)).
		Int("expected_pct", t.BrightnessPct).
		Str("result", res.String()).
		Msg("Verified device")
	return res
}
