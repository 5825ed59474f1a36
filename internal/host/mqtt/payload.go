package mqtt

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/host"
)

// Zigbee2MQTT brightness runs 0..254.
const maxBrightness = 254

type bridgeDevice struct {
	FriendlyName string `json:"friendly_name"`
	IEEEAddress  string `json:"ieee_address"`
	Type         string `json:"type"`
	Definition   *struct {
		Exposes []expose `json:"exposes"`
	} `json:"definition"`
}

type expose struct {
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	ValueMin *int     `json:"value_min"`
	ValueMax *int     `json:"value_max"`
	Features []expose `json:"features"`
}

type bridgeGroup struct {
	FriendlyName string `json:"friendly_name"`
	Members      []struct {
		IEEEAddress string `json:"ieee_address"`
	} `json:"members"`
}

// deviceInfo is what the host keeps per device from bridge/devices.
type deviceInfo struct {
	ieee  string
	light bool
	modes []string

	minKelvin, maxKelvin int
}

// parseDevices returns every device listed in a bridge/devices payload,
// keyed by friendly name. Only lights carry colour modes.
func parseDevices(payload []byte) (map[string]deviceInfo, error) {
	var devices []bridgeDevice
	if err := json.Unmarshal(payload, &devices); err != nil {
		return nil, err
	}
	out := make(map[string]deviceInfo, len(devices))
	for _, d := range devices {
		if d.FriendlyName == "" {
			continue
		}
		info := deviceInfo{ieee: d.IEEEAddress}
		if d.Definition != nil {
			info.readExposes(d.Definition.Exposes)
		}
		out[d.FriendlyName] = info
	}
	return out, nil
}

// readExposes fills in the light capabilities, if the device has any.
func (info *deviceInfo) readExposes(exposes []expose) {
	for _, e := range exposes {
		if e.Type != "light" {
			continue
		}
		var modes []string
		for _, f := range e.Features {
			switch f.Name {
			case "brightness":
				modes = append(modes, ensure.ColorModeBrightness)
			case "color_temp":
				modes = append(modes, ensure.ColorModeColorTemp)
				var lo, hi int
				if f.ValueMin != nil {
					lo = *f.ValueMin
				}
				if f.ValueMax != nil {
					hi = *f.ValueMax
				}
				info.minKelvin, info.maxKelvin = host.KelvinRange(lo, hi)
			case "color_xy":
				modes = append(modes, ensure.ColorModeXY)
			case "color_hs":
				modes = append(modes, ensure.ColorModeHS)
			}
		}
		if len(modes) == 0 {
			modes = []string{ensure.ColorModeOnOff}
		}
		info.light = true
		info.modes = modes
		return
	}
}

// parseGroups returns member IEEE addresses keyed by group friendly name.
func parseGroups(payload []byte) (map[string][]string, error) {
	var groups []bridgeGroup
	if err := json.Unmarshal(payload, &groups); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(groups))
	for _, g := range groups {
		members := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, m.IEEEAddress)
		}
		out[g.FriendlyName] = members
	}
	return out, nil
}

// parseAvailability accepts both the JSON ({"state":"online"}) and the
// legacy plain-text availability payloads.
func parseAvailability(payload []byte) bool {
	var v struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &v); err == nil && v.State != "" {
		return v.State == "online"
	}
	return strings.TrimSpace(string(payload)) == "online"
}

type statePayload struct {
	State      string   `json:"state"`
	Brightness *int     `json:"brightness"`
	ColorMode  string   `json:"color_mode"`
	ColorTemp  *int     `json:"color_temp"`
	Effect     string   `json:"effect"`
	Color      *xyColor `json:"color"`
}

type xyColor struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// parseState converts a device state message. info comes from the device
// definition.
func parseState(payload []byte, info deviceInfo) (ensure.DeviceState, error) {
	var p statePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ensure.DeviceState{}, err
	}

	st := ensure.DeviceState{
		On:                  strings.EqualFold(p.State, "ON"),
		SupportedColorModes: info.modes,
		Effect:              p.Effect,
		MinKelvin:           info.minKelvin,
		MaxKelvin:           info.maxKelvin,
	}
	if st.On && p.Brightness != nil {
		st.Brightness = host.LevelToRaw(*p.Brightness, maxBrightness)
	} else if st.On {
		st.Brightness = 255
	}

	switch p.ColorMode {
	case "color_temp":
		st.ColorMode = ensure.ColorModeColorTemp
		if p.ColorTemp != nil {
			k := host.MiredToKelvin(*p.ColorTemp)
			st.ColorTempKelvin = &k
		}
	case "xy", "hs":
		st.ColorMode = ensure.ColorModeXY
		if p.Color != nil && p.Color.X != nil && p.Color.Y != nil {
			c := host.XYToRGB(*p.Color.X, *p.Color.Y)
			st.RGB = &c
		}
	default:
		st.ColorMode = ensure.ColorModeBrightness
	}
	return st, nil
}

type setPayload struct {
	State      string    `json:"state"`
	Brightness *int      `json:"brightness,omitempty"`
	Color      *rgbColor `json:"color,omitempty"`
	ColorTemp  *int      `json:"color_temp,omitempty"`
	Effect     string    `json:"effect,omitempty"`
	Transition *float64  `json:"transition,omitempty"`
}

type rgbColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// encodeCommand builds the <device>/set payload for cmd.
func encodeCommand(cmd ensure.Command) ([]byte, error) {
	p := setPayload{State: "OFF"}
	if cmd.State == ensure.StateOn {
		p.State = "ON"
		a := cmd.Attributes
		if a.BrightnessPct != nil {
			b := host.PctToLevel(*a.BrightnessPct, maxBrightness)
			p.Brightness = &b
		}
		switch {
		case a.RGB != nil:
			p.Color = &rgbColor{R: a.RGB[0], G: a.RGB[1], B: a.RGB[2]}
		case a.ColorTempKelvin != nil:
			m := host.KelvinToMired(*a.ColorTempKelvin)
			p.ColorTemp = &m
		}
		p.Effect = a.Effect
		if cmd.Transition > 0 {
			secs := math.Round(cmd.Transition.Seconds()*10) / 10
			p.Transition = &secs
		}
	}
	return json.Marshal(p)
}
