package ensure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onRequest(ids ...string) Request {
	return Request{
		TargetIDs:  ids,
		State:      StateOn,
		Defaults:   Settings{BrightnessPct: intPtr(60)},
		Tolerances: DefaultTolerance(),
		Retry:      DefaultRetryConfig(),
	}
}

func TestEnsureState_AllConvergeFirstCycle(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")
	h.addLight("light.b")
	h.addLight("light.c")
	clock := newFakeClock()

	res := newTestController(h, clock).EnsureState(context.Background(), onRequest("light.a", "light.b", "light.c"))

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, ResultSuccess, res.Code)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3, res.TotalDevices)
	assert.Empty(t, res.FailedDeviceIDs)
	assert.True(t, res.Verified)
	assert.Equal(t, "Set 3 lights to on in 1 attempts", res.Message)
	assert.Equal(t, 2*time.Second, res.Elapsed)
	assert.NotEmpty(t, res.OperationID)

	cmds := h.commands()
	require.Len(t, cmds, 1, "identical settings go out as one command")
	assert.Equal(t, []string{"light.a", "light.b", "light.c"}, cmds[0].DeviceIDs)
}

func TestEnsureState_BatchRetryResendsWholeBatch(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")
	h.addLight("light.b").dropNext = 1
	h.addLight("light.c")
	clock := newFakeClock()

	res := newTestController(h, clock).EnsureState(context.Background(), onRequest("light.a", "light.b", "light.c"))

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Attempts)

	cmds := h.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"light.a", "light.b", "light.c"}, cmds[1].DeviceIDs)
}

func TestEnsureState_DeviceRetryResendsOnlyFailures(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")
	h.addLight("light.b").dropNext = 1
	clock := newFakeClock()

	req := onRequest("light.a", "light.b")
	req.Retry.Scope = RetryDevice

	res := newTestController(h, clock).EnsureState(context.Background(), req)

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, h.sentTo("light.a"), 1)
	assert.Len(t, h.sentTo("light.b"), 2)

	cmds := h.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, []string{"light.b"}, cmds[1].DeviceIDs)
}

func TestEnsureState_NeverConverges(t *testing.T) {
	for _, scope := range []RetryScope{RetryBatch, RetryDevice} {
		t.Run(string(scope), func(t *testing.T) {
			h := newFakeHost()
			h.addLight("light.a")
			h.addLight("light.b").dropAll = true
			clock := newFakeClock()

			req := onRequest("light.a", "light.b")
			req.Retry.Scope = scope

			res := newTestController(h, clock).EnsureState(context.Background(), req)

			assert.False(t, res.Success)
			assert.Equal(t, ResultFailed, res.Code)
			assert.Equal(t, 3, res.Attempts)
			assert.Equal(t, []string{"light.b"}, res.FailedDeviceIDs)
			assert.Equal(t, "Failed after 3 attempts. Remaining: light.b", res.Message)
			assert.Len(t, h.sentTo("light.b"), 3)
		})
	}
}

func TestEnsureState_UnavailableIsNeverRetried(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")
	c := h.addLight("light.c")
	c.dropAll = true
	c.goneAfterSend = true
	clock := newFakeClock()

	res := newTestController(h, clock).EnsureState(context.Background(), onRequest("light.a", "light.c"))

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"light.c"}, res.SkippedDeviceIDs)
	assert.Len(t, h.sentTo("light.c"), 1)
	assert.Equal(t, "Set 2 lights to on in 1 attempts. Skipped 1 unavailable.", res.Message)
}

func TestEnsureState_GroupExpansionSkipsUnavailable(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.x")
	h.addLight("light.y").available = false
	h.groups["group.kitchen"] = []string{"light.x", "light.y"}
	clock := newFakeClock()

	res := newTestController(h, clock).EnsureState(context.Background(), onRequest("group.kitchen"))

	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.TotalDevices)
	assert.Equal(t, []string{"light.y"}, res.SkippedDeviceIDs)
	assert.Empty(t, h.sentTo("light.y"))
}

func TestEnsureState_GroupingIsIdempotent(t *testing.T) {
	run := func(ids ...string) OperationResult {
		h := newFakeHost()
		h.addLight("light.a")
		h.addLight("light.b")
		h.groups["group.all"] = []string{"light.a", "light.b"}
		return newTestController(h, newFakeClock()).EnsureState(context.Background(), onRequest(ids...))
	}

	viaGroup := run("group.all")
	direct := run("light.a", "light.b")
	both := run("group.all", "light.b", "light.a")

	for _, r := range []OperationResult{viaGroup, direct, both} {
		assert.True(t, r.Success)
		assert.Equal(t, 2, r.TotalDevices)
		assert.Equal(t, 1, r.Attempts)
	}
}

func TestEnsureState_NoValidEntities(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a").available = false
	sink := &recordingSink{}

	res := newTestController(h, newFakeClock(), WithSink(sink)).EnsureState(context.Background(), onRequest("light.a", "sensor.door"))

	assert.False(t, res.Success)
	assert.Equal(t, ResultNoValidEntities, res.Code)
	assert.Equal(t, []string{"light.a"}, res.SkippedDeviceIDs)
	assert.Equal(t, "No valid light entities found. Skipped: light.a", res.Message)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, h.commands())
	assert.Len(t, sink.all(), 1)
}

func TestEnsureState_InvalidInput(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"bad state", func(r *Request) { r.State = "dim" }},
		{"zero retries", func(r *Request) { r.Retry.MaxRetries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := onRequest("light.a")
			tt.mutate(&req)
			res := newTestController(h, newFakeClock()).EnsureState(context.Background(), req)
			assert.Equal(t, ResultError, res.Code)
			assert.False(t, res.Success)
		})
	}
	assert.Empty(t, h.commands())
}

func TestEnsureState_Timeout(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.b").dropAll = true
	clock := newFakeClock()

	req := onRequest("light.b")
	req.Retry.MaxRetries = 10
	req.Retry.MaxRuntime = 5 * time.Second

	res := newTestController(h, clock).EnsureState(context.Background(), req)

	assert.Equal(t, ResultTimeout, res.Code)
	assert.Equal(t, 3, res.Attempts, "cycles start at 0s, 2s and 4s")
	assert.Equal(t, []string{"light.b"}, res.FailedDeviceIDs)
	assert.Equal(t, "Timeout after 5s. Failed: light.b", res.Message)
}

func TestEnsureState_CancelledWhileWaiting(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a").dropAll = true

	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := NewController(h, WithSleeper(sleeper)).EnsureState(ctx, onRequest("light.a"))

	assert.Equal(t, ResultTimeout, res.Code)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"light.a"}, res.FailedDeviceIDs)
}

func TestEnsureState_ExponentialBackoffBetweenCycles(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a").dropAll = true
	clock := newFakeClock()

	req := onRequest("light.a")
	req.Retry = RetryConfig{
		DelayAfterSend:        time.Second,
		MaxRetries:            5,
		MaxRuntime:            time.Minute,
		UseExponentialBackoff: true,
		MaxBackoff:            5 * time.Second,
	}

	res := newTestController(h, clock).EnsureState(context.Background(), req)

	assert.Equal(t, ResultFailed, res.Code)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, clock.sleeps)
}

func TestEnsureState_TransitionOnlyOnFirstDispatch(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a").dropNext = 1
	clock := newFakeClock()

	req := onRequest("light.a")
	req.Defaults.Transition = floatPtr(2)

	res := newTestController(h, clock).EnsureState(context.Background(), req)
	require.True(t, res.Success, res.Message)

	cmds := h.sentTo("light.a")
	require.Len(t, cmds, 2)
	assert.Equal(t, 2*time.Second, cmds[0].Transition)
	assert.Zero(t, cmds[1].Transition)
}

func TestEnsureState_OffIgnoresColourSettings(t *testing.T) {
	h := newFakeHost()
	for _, id := range []string{"light.a", "light.b", "light.c"} {
		h.addLight(id).state = onState(255)
	}

	req := Request{
		TargetIDs: []string{"light.a", "light.b", "light.c"},
		State:     StateOff,
		Defaults:  Settings{BrightnessPct: intPtr(40)},
		Overrides: map[string]Settings{
			"light.b": {RGB: rgbPtr(0, 255, 0)},
			"light.c": {ColorTempKelvin: intPtr(6500)},
		},
		Tolerances: DefaultTolerance(),
		Retry:      DefaultRetryConfig(),
	}

	res := newTestController(h, newFakeClock()).EnsureState(context.Background(), req)
	assert.True(t, res.Success, res.Message)

	cmds := h.commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, StateOff, cmds[0].State)
	assert.Equal(t, Attributes{}, cmds[0].Attributes)
}

func TestEnsureState_SendFailureDoesNotStopSiblings(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a")
	h.addLight("light.b")
	h.sendErr["light.b"] = errors.New("bridge rejected command")
	clock := newFakeClock()

	req := onRequest("light.a", "light.b")
	req.Overrides = map[string]Settings{"light.b": {BrightnessPct: intPtr(10)}}

	res := newTestController(h, clock).EnsureState(context.Background(), req)

	assert.Equal(t, ResultFailed, res.Code)
	assert.Equal(t, []string{"light.b"}, res.FailedDeviceIDs)
	assert.Len(t, h.sentTo("light.a"), 1)
	assert.Len(t, h.sentTo("light.b"), 3)
}

func TestEnsureState_SkipVerification(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.a").dropAll = true
	h.addLight("light.b").dropAll = true
	clock := newFakeClock()

	req := onRequest("light.a", "light.b")
	req.SkipVerification = true

	res := newTestController(h, clock).EnsureState(context.Background(), req)

	assert.True(t, res.Success)
	assert.False(t, res.Verified)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, h.reads)
	assert.Empty(t, clock.sleeps)
	assert.Len(t, h.commands(), 1)
}

func TestEnsureState_SinkRecordsFailuresAlwaysSuccessOnRequest(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.ok")
	h.addLight("light.bad").dropAll = true
	sink := &recordingSink{}
	ctrl := newTestController(h, newFakeClock(), WithSink(sink))

	ctrl.EnsureState(context.Background(), onRequest("light.ok"))
	assert.Empty(t, sink.all(), "success not recorded by default")

	req := onRequest("light.ok")
	req.LogSuccess = true
	req.Source = "api"
	ctrl.EnsureState(context.Background(), req)

	ctrl.EnsureState(context.Background(), onRequest("light.bad"))

	recs := sink.all()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Result.Success)
	assert.Equal(t, "api", recs[0].Source)
	assert.Equal(t, ResultFailed, recs[1].Result.Code)
	assert.Equal(t, []string{"light.bad"}, recs[1].Targets)
}

func TestEnsureState_RGBRequestOnTemperatureOnlyBulb(t *testing.T) {
	h := newFakeHost()
	h.addLight("light.ambiance", ColorModeColorTemp)

	req := onRequest("light.ambiance")
	req.Defaults.RGB = rgbPtr(255, 0, 0)

	res := newTestController(h, newFakeClock()).EnsureState(context.Background(), req)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Attempts)
}

func TestEnsureState_LateSettlingLightRetried(t *testing.T) {
	tests := []struct {
		scope    RetryScope
		resendTo []string
	}{
		{RetryBatch, []string{"light.a", "light.b"}},
		{RetryDevice, []string{"light.b"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			h := newFakeHost()
			h.addLight("light.a").settle = []int{50}
			h.addLight("light.b").settle = []int{30, 49}
			clock := newFakeClock()

			req := onRequest("light.a", "light.b")
			req.Defaults = Settings{BrightnessPct: intPtr(50)}
			req.Tolerances.Brightness = 3
			req.Retry.Scope = tt.scope

			res := newTestController(h, clock).EnsureState(context.Background(), req)

			assert.True(t, res.Success, res.Message)
			assert.Equal(t, 2, res.Attempts)
			assert.Empty(t, res.FailedDeviceIDs)

			cmds := h.commands()
			require.Len(t, cmds, 2)
			assert.Equal(t, []string{"light.a", "light.b"}, cmds[0].DeviceIDs)
			assert.Equal(t, tt.resendTo, cmds[1].DeviceIDs)
		})
	}
}

func TestEnsureState_BrightnessToleranceBoundary(t *testing.T) {
	tests := []struct {
		settled int
		want    bool
	}{
		{46, false},
		{47, true},
		{50, true},
		{53, true},
		{54, false},
	}
	for _, tt := range tests {
		h := newFakeHost()
		h.addLight("light.a").settle = []int{tt.settled}
		clock := newFakeClock()

		req := onRequest("light.a")
		req.Defaults = Settings{BrightnessPct: intPtr(50)}
		req.Tolerances.Brightness = 3
		req.Retry.MaxRetries = 1

		res := newTestController(h, clock).EnsureState(context.Background(), req)
		if res.Success != tt.want {
			t.Errorf("settled at %d%%: Success = %v, want %v (%s)", tt.settled, res.Success, tt.want, res.Message)
		}
		if !tt.want {
			assert.Equal(t, []string{"light.a"}, res.FailedDeviceIDs, "settled at %d%%", tt.settled)
		}
	}
}
