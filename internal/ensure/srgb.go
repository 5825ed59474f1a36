package ensure

import "math"

// SRGBToLinear removes the sRGB transfer curve from a 0..1 channel value.
func SRGBToLinear(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

// LinearToSRGB applies the sRGB transfer curve to a 0..1 linear value.
func LinearToSRGB(v float64) float64 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

// FullBrightness scales c in linear light until its brightest channel is
// 255. Hosts that report colour as chromaticity can only return this form,
// so both sides of an RGB comparison are brought to it. Black stays black.
func FullBrightness(c RGB) RGB {
	var lin [3]float64
	peak := 0.0
	for i := range c {
		lin[i] = SRGBToLinear(float64(c[i]) / 255)
		peak = math.Max(peak, lin[i])
	}
	if peak == 0 {
		return c
	}
	var out RGB
	for i := range lin {
		out[i] = int(math.Round(LinearToSRGB(lin[i]/peak) * 255))
	}
	return out
}
