package service

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy of the reconciliation engines. Per-record validation
// failures are swallowed into telemetry and never abort a batch; the other
// three abort the sync and bubble out wrapped.
var (
	// ErrValidation marks a single malformed incoming record: bad guid,
	// undecodable payload, missing required fields.
	ErrValidation = errors.New("record validation failed")

	// ErrCorruption marks a local database whose invariants are broken,
	// e.g. missing or duplicated bookmark roots. The caller should offer
	// the user a reset.
	ErrCorruption = errors.New("local store corrupt")

	// ErrInterrupted marks a sync aborted through context cancellation.
	// Already-committed chunks stay committed; re-applying the batch is safe.
	ErrInterrupted = errors.New("sync interrupted")
)

// isValidationErr reports whether err is a per-record validation failure
// that should be counted and skipped rather than abort the batch.
func isValidationErr(err error) bool {
	return errors.Is(err, ErrValidation)
}

// classify maps context cancellation to ErrInterrupted and passes every other
// error through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return err
}
