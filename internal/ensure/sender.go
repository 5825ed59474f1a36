package ensure

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SendBatches issues one command per batch, all batches concurrently, and
// waits for every send to finish. The returned slice is aligned with batches;
// a non-nil entry means that batch's dispatch failed. A failed dispatch does
// not affect its siblings.
func SendBatches(ctx context.Context, issuer CommandIssuer, batches []DispatchBatch, logger zerolog.Logger) []error {
	errs := make([]error, len(batches))

	var g errgroup.Group
	for i, b := range batches {
		g.Go(func() error {
			cmd := b.Payload(b.FirstAttempt)

			logger.Debug().
				Str("state", string(cmd.State)).
				Strs("devices", cmd.DeviceIDs).
				Dur("transition", cmd.Transition).
				Msg("Sending command")

			if err := safeSend(ctx, issuer, cmd); err != nil {
				logger.Error().Err(err).
					Strs("devices", cmd.DeviceIDs).
					Msg("Command dispatch failed")
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

// safeSend converts a panicking issuer into an error.
func safeSend(ctx context.Context, issuer CommandIssuer, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command issuer panicked: %v", r)
		}
	}()
	return issuer.Send(ctx, cmd)
}
