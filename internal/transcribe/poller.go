package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"voicerelay/internal/apperr"
)

var errNotReady = errors.New("transcription job not ready")

// newTierBackoff builds the polling schedule for a complexity tier.
func newTierBackoff(tier complexityTier) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = tier.baseInterval
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 1.5
	bo.MaxInterval = 3 * time.Second
	bo.MaxElapsedTime = PollWallClock
	return backoff.WithMaxRetries(bo, tier.maxAttempts)
}

// newRecoveryBackoff is the flat schedule used by the recovery path.
func newRecoveryBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(RecoveryPollInterval)
}

// pollJob drives a job to completion under the hard wall clock. A timeout is
// reported as CodeTimeout so callers can finalize with an empty transcript
// instead of an error state.
func pollJob(ctx context.Context, jobs JobClient, jobID string, bo backoff.BackOff) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, PollWallClock)
	defer cancel()

	var text string
	op := func() error {
		status, err := jobs.Poll(ctx, jobID)
		if err != nil {
			if apperr.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		switch status {
		case JobStatusDone:
			t, err := jobs.Fetch(ctx, jobID)
			if err != nil {
				return err
			}
			text = t
			return nil
		case JobStatusFailed:
			return backoff.Permanent(apperr.Newf(apperr.CodeJobPollFailed, "job %s failed remotely", jobID))
		default:
			return errNotReady
		}
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errNotReady) {
			return "", apperr.Wrap(err, apperr.CodeTimeout, "transcription polling timed out")
		}
		return "", err
	}
	return text, nil
}
