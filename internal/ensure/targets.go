package ensure

import "time"

// DefaultBrightnessPct is used when neither defaults nor override set brightness.
const DefaultBrightnessPct = 100

// MergeSettings overlays the non-nil fields of over onto base.
func MergeSettings(base, over Settings) Settings {
	out := base
	if over.BrightnessPct != nil {
		out.BrightnessPct = over.BrightnessPct
	}
	if over.RGB != nil {
		out.RGB = over.RGB
	}
	if over.ColorTempKelvin != nil {
		out.ColorTempKelvin = over.ColorTempKelvin
	}
	if over.Effect != nil {
		out.Effect = over.Effect
	}
	if over.Transition != nil {
		out.Transition = over.Transition
	}
	return out
}

// BuildTargets produces one DeviceTarget per device: defaults first, then the
// device's override. When both RGB and Kelvin survive the merge, RGB wins.
func BuildTargets(ids []string, state TargetState, defaults Settings, overrides map[string]Settings) []DeviceTarget {
	targets := make([]DeviceTarget, 0, len(ids))

	for _, id := range ids {
		s := defaults
		if o, ok := overrides[id]; ok {
			s = MergeSettings(defaults, o)
		}

		t := DeviceTarget{
			DeviceID:      id,
			State:         state,
			BrightnessPct: DefaultBrightnessPct,
		}
		if s.BrightnessPct != nil {
			t.BrightnessPct = *s.BrightnessPct
		}
		if s.RGB != nil {
			c := *s.RGB
			t.RGB = &c
		} else if s.ColorTempKelvin != nil {
			k := *s.ColorTempKelvin
			t.ColorTempKelvin = &k
		}
		if s.Effect != nil {
			t.Effect = *s.Effect
		}
		if s.Transition != nil && *s.Transition > 0 {
			t.Transition = time.Duration(*s.Transition * float64(time.Second))
		}

		targets = append(targets, t)
	}

	return targets
}
