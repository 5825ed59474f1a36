package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

type captureRunner struct {
	got ensure.Request
}

func (c *captureRunner) EnsureState(_ context.Context, req ensure.Request) ensure.OperationResult {
	c.got = req
	return ensure.OperationResult{Success: true, Code: ensure.ResultSuccess}
}

func testDefaults() Defaults {
	bri := 100
	return Defaults{
		Settings:  ensure.Settings{BrightnessPct: &bri},
		Tolerance: ensure.DefaultTolerance(),
		Retry:     ensure.DefaultRetryConfig(),
	}
}

func TestParams_UnmarshalEntityID(t *testing.T) {
	tests := []struct {
		body string
		want EntityList
	}{
		{`{"entity_id": "light.a", "state": "on"}`, EntityList{"light.a"}},
		{`{"entity_id": ["light.a", "group.b"], "state": "on"}`, EntityList{"light.a", "group.b"}},
		{`{"entity_id": "", "state": "on"}`, nil},
	}
	for _, tt := range tests {
		var p Params
		require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
		assert.Equal(t, tt.want, p.EntityID)
	}

	var p Params
	assert.Error(t, json.Unmarshal([]byte(`{"entity_id": 5}`), &p))
}

func TestParams_UnmarshalTargets(t *testing.T) {
	body := `{
		"entity_id": ["light.a", "light.b"],
		"state": "on",
		"targets": [{"entity_id": "light.b", "brightness_pct": 20, "rgb_color": [255, 0, 0]}]
	}`
	var p Params
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	overrides := p.Overrides()
	require.Contains(t, overrides, "light.b")
	assert.Equal(t, 20, *overrides["light.b"].BrightnessPct)
	assert.Equal(t, ensure.RGB{255, 0, 0}, *overrides["light.b"].RGB)
}

func TestParams_Validate(t *testing.T) {
	i := func(v int) *int { return &v }
	f := func(v float64) *float64 { return &v }
	s := func(v string) *string { return &v }

	valid := func() Params { return Params{EntityID: EntityList{"light.a"}, State: "on"} }

	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"minimal", func(*Params) {}, false},
		{"no entities", func(p *Params) { p.EntityID = nil }, true},
		{"blank entity", func(p *Params) { p.EntityID = EntityList{" "} }, true},
		{"bad state", func(p *Params) { p.State = "dim" }, true},
		{"brightness zero", func(p *Params) { p.BrightnessPct = i(0) }, true},
		{"brightness max", func(p *Params) { p.BrightnessPct = i(100) }, false},
		{"rgb channel", func(p *Params) { p.RGBColor = &ensure.RGB{256, 0, 0} }, true},
		{"kelvin low", func(p *Params) { p.ColorTempKelvin = i(999) }, true},
		{"kelvin ok", func(p *Params) { p.ColorTempKelvin = i(2700) }, false},
		{"transition", func(p *Params) { p.Transition = f(301) }, true},
		{"brightness tolerance", func(p *Params) { p.BrightnessTolerance = i(51) }, true},
		{"rgb tolerance", func(p *Params) { p.RGBTolerance = i(100) }, false},
		{"kelvin tolerance", func(p *Params) { p.KelvinTolerance = i(-1) }, true},
		{"delay", func(p *Params) { p.DelayAfterSend = f(0.05) }, true},
		{"retries", func(p *Params) { p.MaxRetries = i(21) }, true},
		{"runtime", func(p *Params) { p.MaxRuntime = f(4) }, true},
		{"backoff", func(p *Params) { p.MaxBackoff = f(300) }, false},
		{"scope", func(p *Params) { p.RetryScope = s("room") }, true},
		{"override missing id", func(p *Params) { p.Targets = []Override{{}} }, true},
		{"override range", func(p *Params) {
			p.Targets = []Override{{EntityID: "light.a", Settings: ensure.Settings{BrightnessPct: i(101)}}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestService_LayersCallOverConfigOverBuiltin(t *testing.T) {
	runner := &captureRunner{}
	defaults := testDefaults()
	defaults.Retry.MaxRetries = 5
	defaults.LogSuccess = true
	svc := NewService(runner, defaults)

	retries := 2
	delay := 0.5
	tol := 0
	skip := true
	kelvin := 2700
	p := Params{
		EntityID:            EntityList{"light.a"},
		State:               "ON",
		ColorTempKelvin:     &kelvin,
		MaxRetries:          &retries,
		DelayAfterSend:      &delay,
		BrightnessTolerance: &tol,
		SkipVerification:    &skip,
	}

	_, err := svc.EnsureState(context.Background(), p, "api")
	require.NoError(t, err)

	req := runner.got
	assert.Equal(t, ensure.StateOn, req.State)
	assert.Equal(t, "api", req.Source)
	assert.Equal(t, 100, *req.Defaults.BrightnessPct, "config default kept")
	assert.Equal(t, 2700, *req.Defaults.ColorTempKelvin)
	assert.Equal(t, 2, req.Retry.MaxRetries, "call wins over config")
	assert.Equal(t, 500*time.Millisecond, req.Retry.DelayAfterSend)
	assert.Equal(t, 60*time.Second, req.Retry.MaxRuntime, "builtin default")
	assert.Equal(t, 0, req.Tolerances.Brightness)
	assert.Equal(t, 10, req.Tolerances.RGB)
	assert.True(t, req.SkipVerification)
	assert.True(t, req.LogSuccess, "config log_success applies")
}

func TestService_InvalidParamsNeverRun(t *testing.T) {
	runner := &captureRunner{}
	svc := NewService(runner, testDefaults())

	_, err := svc.EnsureState(context.Background(), Params{State: "on"}, "api")
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Empty(t, runner.got.TargetIDs)
}
