// Package host holds the colour and brightness conversions shared by the
// platform adapters.
package host

import (
	"math"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// Wide-gamut D65 matrices used by Hue and most Zigbee colour bulbs.
var (
	rgbToXYZ = [3][3]float64{
		{0.664511, 0.154324, 0.162028},
		{0.283881, 0.668433, 0.047685},
		{0.000088, 0.072310, 0.986039},
	}
	xyzToRGB = [3][3]float64{
		{1.656492, -0.354851, -0.255038},
		{-0.707196, 1.655397, 0.036152},
		{0.051713, -0.121364, 1.011530},
	}
)

// Mired bounds accepted by common colour-temperature bulbs.
const (
	MinMired = 153
	MaxMired = 500
)

// RGBToXY converts an sRGB colour to CIE 1931 chromaticity.
// Black maps to the D65 white point.
func RGBToXY(c ensure.RGB) (x, y float64) {
	r := ensure.SRGBToLinear(float64(c[0]) / 255)
	g := ensure.SRGBToLinear(float64(c[1]) / 255)
	b := ensure.SRGBToLinear(float64(c[2]) / 255)

	X := r*rgbToXYZ[0][0] + g*rgbToXYZ[0][1] + b*rgbToXYZ[0][2]
	Y := r*rgbToXYZ[1][0] + g*rgbToXYZ[1][1] + b*rgbToXYZ[1][2]
	Z := r*rgbToXYZ[2][0] + g*rgbToXYZ[2][1] + b*rgbToXYZ[2][2]

	sum := X + Y + Z
	if sum == 0 {
		return 0.3127, 0.3290
	}
	return round4(X / sum), round4(Y / sum)
}

// XYToRGB converts chromaticity back to sRGB at full brightness: the
// brightest channel is always 255.
func XYToRGB(x, y float64) ensure.RGB {
	if y <= 0 {
		return ensure.RGB{255, 255, 255}
	}
	X := x / y
	Z := (1 - x - y) / y

	lin := [3]float64{
		X*xyzToRGB[0][0] + xyzToRGB[0][1] + Z*xyzToRGB[0][2],
		X*xyzToRGB[1][0] + xyzToRGB[1][1] + Z*xyzToRGB[1][2],
		X*xyzToRGB[2][0] + xyzToRGB[2][1] + Z*xyzToRGB[2][2],
	}

	peak := 0.0
	for i := range lin {
		if lin[i] < 0 {
			lin[i] = 0
		}
		peak = math.Max(peak, lin[i])
	}
	if peak == 0 {
		return ensure.RGB{0, 0, 0}
	}

	var out ensure.RGB
	for i := range lin {
		out[i] = int(math.Round(ensure.LinearToSRGB(lin[i]/peak) * 255))
	}
	return out
}

// KelvinToMired converts a colour temperature, clamped to the bulb range.
func KelvinToMired(kelvin int) int {
	if kelvin <= 0 {
		return MaxMired
	}
	m := int(math.Round(1e6 / float64(kelvin)))
	return min(max(m, MinMired), MaxMired)
}

// KelvinRange returns the kelvin bounds of a mired range. Zero or
// inverted bounds fall back to MinMired..MaxMired.
func KelvinRange(minMired, maxMired int) (minKelvin, maxKelvin int) {
	if minMired <= 0 || maxMired <= 0 || minMired > maxMired {
		minMired, maxMired = MinMired, MaxMired
	}
	return MiredToKelvin(maxMired), MiredToKelvin(minMired)
}

// MiredToKelvin converts mired to kelvin. Zero yields zero.
func MiredToKelvin(mired int) int {
	if mired <= 0 {
		return 0
	}
	return int(math.Round(1e6 / float64(mired)))
}

// PctToLevel maps a 0-100 brightness percentage onto a device scale of
// 1..top. Zero stays zero.
func PctToLevel(pct, top int) int {
	if pct <= 0 {
		return 0
	}
	lvl := int(math.Round(float64(pct) * float64(top) / 100))
	return min(max(lvl, 1), top)
}

// LevelToRaw rescales a 0..top device level to the 0-255 range the
// verifier works in.
func LevelToRaw(level, top int) int {
	if top <= 0 || level <= 0 {
		return 0
	}
	raw := int(math.Round(float64(level) * 255 / float64(top)))
	return min(raw, 255)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
