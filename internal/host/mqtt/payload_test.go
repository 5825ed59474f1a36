package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

func TestParseDevices(t *testing.T) {
	devices, err := parseDevices([]byte(devicesJSON))
	require.NoError(t, err)
	require.Len(t, devices, 5)

	strip := devices["kitchen_strip"]
	assert.Equal(t, "0x01", strip.ieee)
	assert.True(t, strip.light)
	assert.Equal(t, []string{ensure.ColorModeBrightness, ensure.ColorModeColorTemp, ensure.ColorModeXY}, strip.modes)
	assert.Equal(t, 2000, strip.minKelvin, "no advertised range falls back to the default")
	assert.Equal(t, 6536, strip.maxKelvin)

	assert.Equal(t, []string{ensure.ColorModeBrightness}, devices["hall_bulb"].modes)
	assert.Zero(t, devices["hall_bulb"].maxKelvin)

	ceiling := devices["kitchen/ceiling"]
	assert.True(t, ceiling.light)
	assert.Equal(t, 2203, ceiling.minKelvin)
	assert.Equal(t, 4000, ceiling.maxKelvin)

	sensor := devices["door_sensor"]
	assert.Equal(t, "0x03", sensor.ieee)
	assert.False(t, sensor.light)
	assert.Empty(t, sensor.modes)
	assert.False(t, devices["Coordinator"].light)

	_, err = parseDevices([]byte(`{`))
	assert.Error(t, err)
}

func TestParseAvailability(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{`{"state":"online"}`, true},
		{`{"state":"offline"}`, false},
		{"online", true},
		{"offline", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := parseAvailability([]byte(tt.payload)); got != tt.want {
			t.Errorf("parseAvailability(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestParseState(t *testing.T) {
	info := deviceInfo{
		light:     true,
		modes:     []string{ensure.ColorModeXY, ensure.ColorModeColorTemp},
		minKelvin: 2203,
		maxKelvin: 4000,
	}

	st, err := parseState([]byte(`{"state":"ON","brightness":254,"color_mode":"color_temp","color_temp":370,"linkquality":80}`), info)
	require.NoError(t, err)
	assert.True(t, st.On)
	assert.Equal(t, 255, st.Brightness)
	assert.Equal(t, ensure.ColorModeColorTemp, st.ColorMode)
	require.NotNil(t, st.ColorTempKelvin)
	assert.Equal(t, 2703, *st.ColorTempKelvin)
	assert.Nil(t, st.RGB)
	assert.Equal(t, 2203, st.MinKelvin)
	assert.Equal(t, 4000, st.MaxKelvin)

	st, err = parseState([]byte(`{"state":"ON","brightness":127,"color_mode":"xy","color":{"x":0.1355,"y":0.0399}}`), info)
	require.NoError(t, err)
	assert.Equal(t, ensure.ColorModeXY, st.ColorMode)
	require.NotNil(t, st.RGB)
	assert.InDelta(t, 255, st.RGB[2], 2)
	assert.InDelta(t, 0, st.RGB[0], 2)

	st, err = parseState([]byte(`{"state":"OFF","brightness":200}`), info)
	require.NoError(t, err)
	assert.False(t, st.On)
	assert.Zero(t, st.Brightness)
}

func TestEncodeCommand(t *testing.T) {
	pct := 100
	kelvin := 4000
	rgb := ensure.RGB{10, 20, 30}

	tests := []struct {
		name string
		cmd  ensure.Command
		want string
	}{
		{
			name: "off drops attributes",
			cmd:  ensure.Command{State: ensure.StateOff, Attributes: ensure.Attributes{BrightnessPct: &pct}},
			want: `{"state":"OFF"}`,
		},
		{
			name: "kelvin with transition",
			cmd: ensure.Command{
				State:      ensure.StateOn,
				Attributes: ensure.Attributes{BrightnessPct: &pct, ColorTempKelvin: &kelvin},
				Transition: 2 * time.Second,
			},
			want: `{"state":"ON","brightness":254,"color_temp":250,"transition":2}`,
		},
		{
			name: "rgb and effect",
			cmd: ensure.Command{
				State:      ensure.StateOn,
				Attributes: ensure.Attributes{BrightnessPct: &pct, RGB: &rgb, Effect: "blink"},
			},
			want: `{"state":"ON","brightness":254,"color":{"r":10,"g":20,"b":30},"effect":"blink"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}
