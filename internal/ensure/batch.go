package ensure

import "time"

// batchKey identifies targets that can share a command.
type batchKey struct {
	state      TargetState
	bri        int
	rgb        RGB
	hasRGB     bool
	kelvin     int
	hasKelvin  bool
	effect     string
	transition time.Duration
}

func keyFor(t DeviceTarget, firstAttempt bool) batchKey {
	if t.State == StateOff {
		// off takes no parameters, so every off target shares one batch
		return batchKey{state: StateOff}
	}

	k := batchKey{
		state:  t.State,
		bri:    t.BrightnessPct,
		effect: t.Effect,
	}
	if t.RGB != nil {
		k.rgb, k.hasRGB = *t.RGB, true
	}
	if t.ColorTempKelvin != nil {
		k.kelvin, k.hasKelvin = *t.ColorTempKelvin, true
	}
	if firstAttempt {
		k.transition = t.Transition
	}
	return k
}

// BuildBatches partitions pending targets into batches with identical settings.
// Batches appear in first-seen key order; members keep pending order.
func BuildBatches(pending []DeviceTarget, firstAttempt bool) []DispatchBatch {
	index := make(map[batchKey]int)
	var batches []DispatchBatch

	for _, t := range pending {
		k := keyFor(t, firstAttempt)
		if i, ok := index[k]; ok {
			batches[i].DeviceIDs = append(batches[i].DeviceIDs, t.DeviceID)
			continue
		}

		b := DispatchBatch{
			DeviceIDs:    []string{t.DeviceID},
			State:        t.State,
			FirstAttempt: firstAttempt,
		}
		if t.State == StateOn {
			b.BrightnessPct = t.BrightnessPct
			b.RGB = t.RGB
			b.ColorTempKelvin = t.ColorTempKelvin
			b.Effect = t.Effect
			if firstAttempt {
				b.Transition = t.Transition
			}
		}

		index[k] = len(batches)
		batches = append(batches, b)
	}

	return batches
}
