package ensure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request carries everything one ensure-state call needs.
// The pipeline has no configuration of its own.
type Request struct {
	TargetIDs        []string
	State            TargetState
	Defaults         Settings
	Overrides        map[string]Settings
	Tolerances       ColorTolerance
	Retry            RetryConfig
	SkipVerification bool
	LogSuccess       bool
	Source           string // free-form caller tag for the sink ("api", "preset:<id>", "lua")
}

// Controller runs ensure-state operations against a Host.
// It holds no per-operation state and is safe for concurrent use.
type Controller struct {
	host  Host
	sink  Sink
	now   func() time.Time
	sleep Sleeper
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink sets the operation record sink.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleeper replaces the inter-cycle wait.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// NewController creates a controller bound to host.
func NewController(host Host, opts ...Option) *Controller {
	c := &Controller{
		host:  host,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the host the controller drives.
func (c *Controller) Host() Host {
	return c.host
}

// EnsureState drives the requested lights to the target state and reports
// the outcome. It always returns a complete result; input and resolution
// errors are expressed through the result code.
func (c *Controller) EnsureState(ctx context.Context, req Request) OperationResult {
	op := newOperation(c.now, uuid.NewString())
	logger := log.With().Str("op", op.id).Logger()

	logger.Info().
		Int("entities", len(req.TargetIDs)).
		Str("state", string(req.State)).
		Bool("skip_verification", req.SkipVerification).
		Msg("Starting ensure_state")

	res := c.run(ctx, req, op, logger)

	ev := logger.Info()
	if !res.Success {
		ev = logger.Error()
	}
	ev.Str("result", string(res.Code)).
		Int("attempts", res.Attempts).
		Strs("failed", res.FailedDeviceIDs).
		Strs("skipped", res.SkippedDeviceIDs).
		Dur("elapsed", res.Elapsed).
		Msg(res.Message)

	c.record(req, res)
	return res
}

func (c *Controller) run(ctx context.Context, req Request, op *operation, logger zerolog.Logger) OperationResult {
	if req.State != StateOn && req.State != StateOff {
		return op.errorResult(fmt.Sprintf("Invalid state '%s'. Must be 'on' or 'off'.", req.State))
	}
	if !req.SkipVerification && req.Retry.MaxRetries < 1 {
		return op.errorResult("max_retries must be at least 1")
	}

	res, err := Resolve(ctx, c.host, c.host, req.TargetIDs)
	if err != nil {
		if errors.Is(err, ErrNoValidEntities) {
			return op.noValidEntities(res.Skipped)
		}
		return op.errorResult(err.Error())
	}
	if len(res.Skipped) > 0 {
		logger.Info().Strs("skipped", res.Skipped).Msg("Skipping unavailable lights")
	}

	targets := BuildTargets(res.Devices, req.State, req.Defaults, req.Overrides)

	if req.SkipVerification {
		return c.fireAndForget(ctx, req, op, targets, res.Skipped, logger)
	}

	return op.aggregate(c.retryLoop(ctx, req, op, targets, res.Skipped, logger))
}

// fireAndForget sends once and reports success without reading anything back.
func (c *Controller) fireAndForget(ctx context.Context, req Request, op *operation, targets []DeviceTarget, skipped []string, logger zerolog.Logger) OperationResult {
	logger.Info().Msg("Fire-and-forget mode")

	SendBatches(ctx, c.host, BuildBatches(targets, true), logger)

	r := op.result(ResultSuccess, fmt.Sprintf("Fire-and-forget: sent %s to %d lights", req.State, len(targets)))
	r.Attempts = 1
	r.TotalDevices = len(targets)
	r.SkippedDeviceIDs = skipped
	return r
}

// retryLoop runs dispatch -> wait -> verify cycles until nothing is pending,
// the retry budget is spent, the runtime limit is hit, or ctx is done.
func (c *Controller) retryLoop(ctx context.Context, req Request, op *operation, targets []DeviceTarget, skippedAtStart []string, logger zerolog.Logger) outcome {
	retry := req.Retry
	pending := targets
	failed := deviceIDs(targets)
	skipped := newOrderedSet(skippedAtStart...)
	attempts := 0
	interrupted := false

	for len(pending) > 0 && attempts < retry.MaxRetries {
		if retry.MaxRuntime > 0 && op.elapsed() >= retry.MaxRuntime {
			logger.Warn().Dur("elapsed", op.elapsed()).Msg("Timeout reached")
			break
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		logger.Info().
			Int("attempt", attempts+1).
			Int("max_retries", retry.MaxRetries).
			Int("pending", len(pending)).
			Msg("Dispatching")

		batches := BuildBatches(pending, attempts == 0)
		SendBatches(ctx, c.host, batches, logger)

		delay := retry.Delay(attempts)
		attempts++

		if err := c.sleep(ctx, delay); err != nil {
			logger.Warn().Err(err).Msg("Interrupted while waiting for lights to settle")
			interrupted = true
			break
		}

		results := VerifyAll(ctx, c.host, pending, req.Tolerances, logger)

		var unavailable []string
		checked := len(pending)
		pending, failed, unavailable = nextPending(pending, batches, results, retry.scope())
		for _, id := range unavailable {
			skipped.add(id)
		}

		logger.Debug().
			Int("verified", checked-len(failed)-len(unavailable)).
			Int("unavailable", len(unavailable)).
			Int("failed", len(failed)).
			Int("resend", len(pending)).
			Msg("Verification complete")
	}

	return outcome{
		state:       req.State,
		total:       len(targets),
		attempts:    attempts,
		failed:      failed,
		skipped:     skipped.items,
		interrupted: interrupted,
		maxRuntime:  retry.MaxRuntime,
	}
}

// nextPending derives the next cycle's pending set along with the devices that
// failed verification and those that went unavailable. With RetryBatch, a
// batch with any failed member is re-sent whole.
func nextPending(pending []DeviceTarget, batches []DispatchBatch, results map[string]VerificationResult, scope RetryScope) (next []DeviceTarget, failed, unavailable []string) {
	resultOf := func(id string) VerificationResult {
		if r, ok := results[id]; ok {
			return r
		}
		return VerifyError
	}

	retry := make(map[string]bool)

	for _, b := range batches {
		batchFailed := false
		for _, id := range b.DeviceIDs {
			if !resultOf(id).settled() {
				batchFailed = true
				retry[id] = true
			}
		}

		if batchFailed && scope == RetryBatch {
			for _, id := range b.DeviceIDs {
				if resultOf(id) != VerifyUnavailable {
					retry[id] = true
				}
			}
		}
	}

	next = make([]DeviceTarget, 0, len(retry))
	for _, t := range pending {
		switch r := resultOf(t.DeviceID); {
		case r == VerifyUnavailable:
			unavailable = append(unavailable, t.DeviceID)
			continue
		case !r.settled():
			failed = append(failed, t.DeviceID)
		}
		if retry[t.DeviceID] {
			next = append(next, t)
		}
	}
	return next, failed, unavailable
}

// record forwards the result to the sink: failures always, successes on request.
func (c *Controller) record(req Request, res OperationResult) {
	if c.sink == nil {
		return
	}
	if res.Success && !req.LogSuccess {
		return
	}
	c.sink.Record(OperationRecord{
		Result:   res,
		State:    req.State,
		Targets:  append([]string(nil), req.TargetIDs...),
		Source:   req.Source,
		Finished: c.now(),
	})
}
