package preset

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ensure"
)

// FromCurrent builds an unsaved preset that reproduces the devices' present
// state. If any device is on, the preset turns lights on with one override
// per lit device; otherwise it turns everything off. Unreadable devices are
// skipped.
func FromCurrent(ctx context.Context, reader ensure.StateReader, name string, ids []string) (Preset, error) {
	if len(ids) == 0 {
		return Preset{}, ErrNoEntities
	}

	var targets []control.Override
	anyOn := false

	for _, id := range ids {
		st, err := reader.Read(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("device", id).Msg("Cannot read device, leaving it out of the capture")
			continue
		}
		if !st.On {
			continue
		}
		anyOn = true
		targets = append(targets, control.Override{EntityID: id, Settings: captureSettings(st)})
	}

	p := Preset{
		Name:   name,
		Params: control.Params{EntityID: append(control.EntityList(nil), ids...)},
	}
	if anyOn {
		p.State = string(ensure.StateOn)
		p.Targets = targets
	} else {
		p.State = string(ensure.StateOff)
	}
	return p, nil
}

func captureSettings(st ensure.DeviceState) ensure.Settings {
	var s ensure.Settings

	pct := ensure.BrightnessPct(st.Brightness)
	if pct < 1 {
		pct = 1
	}
	s.BrightnessPct = &pct

	switch {
	case st.ColorMode == ensure.ColorModeColorTemp && st.ColorTempKelvin != nil:
		k := *st.ColorTempKelvin
		s.ColorTempKelvin = &k
	case st.RGB != nil:
		c := *st.RGB
		s.RGB = &c
	case st.ColorTempKelvin != nil:
		k := *st.ColorTempKelvin
		s.ColorTempKelvin = &k
	}

	if e := strings.TrimSpace(st.Effect); e != "" && !strings.EqualFold(e, "none") {
		s.Effect = &e
	}
	return s
}
