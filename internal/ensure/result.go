package ensure

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// operation tracks the wall clock and identity of one ensure-state call.
type operation struct {
	id    string
	start time.Time
	now   func() time.Time
}

func newOperation(now func() time.Time, id string) *operation {
	return &operation{id: id, start: now(), now: now}
}

func (o *operation) elapsed() time.Duration {
	return o.now().Sub(o.start)
}

func (o *operation) result(code ResultCode, msg string) OperationResult {
	return OperationResult{
		OperationID: o.id,
		Success:     code == ResultSuccess,
		Code:        code,
		Message:     msg,
		Elapsed:     o.elapsed(),
	}
}

func (o *operation) errorResult(msg string) OperationResult {
	return o.result(ResultError, msg)
}

func (o *operation) noValidEntities(skipped []string) OperationResult {
	msg := "No valid light entities found"
	if len(skipped) > 0 {
		msg += ". Skipped: " + strings.Join(skipped, ", ")
	}
	r := o.result(ResultNoValidEntities, msg)
	r.SkippedDeviceIDs = skipped
	return r
}

// outcome is everything the retry loop hands to the aggregator.
type outcome struct {
	state       TargetState
	total       int
	attempts    int
	failed      []string
	skipped     []string
	interrupted bool
	maxRuntime  time.Duration
}

func (o *operation) aggregate(out outcome) OperationResult {
	elapsed := o.elapsed()
	failed := out.failed

	var r OperationResult
	switch {
	case len(failed) == 0:
		msg := fmt.Sprintf("Set %d lights to %s in %d attempts", out.total, out.state, out.attempts)
		if len(out.skipped) > 0 {
			msg += fmt.Sprintf(". Skipped %d unavailable.", len(out.skipped))
		}
		r = o.result(ResultSuccess, msg)

	case out.interrupted || (out.maxRuntime > 0 && elapsed >= out.maxRuntime):
		r = o.result(ResultTimeout, fmt.Sprintf("Timeout after %ss. Failed: %s",
			strconv.FormatFloat(out.maxRuntime.Seconds(), 'f', -1, 64), strings.Join(failed, ", ")))
		r.FailedDeviceIDs = failed

	default:
		r = o.result(ResultFailed, fmt.Sprintf("Failed after %d attempts. Remaining: %s",
			out.attempts, strings.Join(failed, ", ")))
		r.FailedDeviceIDs = failed
	}

	r.Attempts = out.attempts
	r.TotalDevices = out.total
	r.SkippedDeviceIDs = out.skipped
	r.Verified = true
	r.Elapsed = elapsed
	return r
}

func deviceIDs(targets []DeviceTarget) []string {
	if len(targets) == 0 {
		return nil
	}
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.DeviceID
	}
	return ids
}
