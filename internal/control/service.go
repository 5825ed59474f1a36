package control

import (
	"context"
	"time"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// Defaults is the configuration layer under every call.
type Defaults struct {
	Settings   ensure.Settings
	Tolerance  ensure.ColorTolerance
	Retry      ensure.RetryConfig
	LogSuccess bool
}

// Runner executes a pipeline request. *ensure.Controller satisfies it.
type Runner interface {
	EnsureState(ctx context.Context, req ensure.Request) ensure.OperationResult
}

// Service validates parameters, layers them over the configured defaults and
// runs the pipeline.
type Service struct {
	runner   Runner
	defaults Defaults
}

// NewService creates a service.
func NewService(runner Runner, defaults Defaults) *Service {
	return &Service{runner: runner, defaults: defaults}
}

// Defaults returns the configured defaults.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Request builds a pipeline request: call values, then configured defaults,
// then built-in defaults.
func (s *Service) Request(p Params, source string) (ensure.Request, error) {
	if err := p.Validate(); err != nil {
		return ensure.Request{}, err
	}
	state, _ := ensure.ParseTargetState(p.State)

	tol := s.defaults.Tolerance
	setInt(&tol.Brightness, p.BrightnessTolerance)
	setInt(&tol.RGB, p.RGBTolerance)
	setInt(&tol.Kelvin, p.KelvinTolerance)

	retry := s.defaults.Retry
	setSeconds(&retry.DelayAfterSend, p.DelayAfterSend)
	setInt(&retry.MaxRetries, p.MaxRetries)
	setSeconds(&retry.MaxRuntime, p.MaxRuntime)
	setSeconds(&retry.MaxBackoff, p.MaxBackoff)
	if p.UseExponentialBackoff != nil {
		retry.UseExponentialBackoff = *p.UseExponentialBackoff
	}
	if p.RetryScope != nil {
		retry.Scope = ensure.RetryScope(*p.RetryScope)
	}

	req := ensure.Request{
		TargetIDs:  append([]string(nil), p.EntityID...),
		State:      state,
		Defaults:   ensure.MergeSettings(s.defaults.Settings, p.Settings()),
		Overrides:  p.Overrides(),
		Tolerances: tol,
		Retry:      retry,
		LogSuccess: s.defaults.LogSuccess,
		Source:     source,
	}
	if p.SkipVerification != nil {
		req.SkipVerification = *p.SkipVerification
	}
	if p.LogSuccess != nil {
		req.LogSuccess = *p.LogSuccess
	}
	return req, nil
}

// EnsureState validates p and runs it. Validation errors wrap ErrInvalidParams.
func (s *Service) EnsureState(ctx context.Context, p Params, source string) (ensure.OperationResult, error) {
	req, err := s.Request(p, source)
	if err != nil {
		return ensure.OperationResult{}, err
	}
	return s.runner.EnsureState(ctx, req), nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *float64) {
	if v != nil {
		*dst = time.Duration(*v * float64(time.Second))
	}
}
