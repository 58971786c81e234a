package streamstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/retry"
)

// Append appends messages to streamID under optimistic concurrency control.
//
// expectedVersion is the version the caller believes the stream is at:
// a concrete version >= 0, NoStream, or AnyVersion. With AnyVersion the
// store retries concurrency conflicts internally (exponential backoff,
// capped at 50ms, up to 200 attempts); with any other expectation a
// conflict fails immediately with ErrConcurrency.
//
// The result reports the version and global position of the last message
// written. Appending zero messages is allowed and returns the current head.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion int64, messages []NewMessage) (AppendResult, error) {
	if err := validateStreamID(streamID); err != nil {
		return AppendResult{}, err
	}
	if err := validateExpectedVersion(expectedVersion); err != nil {
		return AppendResult{}, err
	}
	if err := validateMessages(messages); err != nil {
		return AppendResult{}, err
	}
	if err := s.checkDisposed(); err != nil {
		return AppendResult{}, err
	}

	exit := s.writes.Enter()
	defer exit()

	return s.appendWithRetry(ctx, streamID, expectedVersion, messages)
}

// appendWithRetry drives one driver append, retrying concurrency conflicts
// only when the caller asked for AnyVersion. The caller holds the write latch.
func (s *Store) appendWithRetry(ctx context.Context, streamID string, expectedVersion int64, messages []NewMessage) (AppendResult, error) {
	var res AppendResult
	attempt := func() error {
		out, err := s.driver.Append(ctx, streamID, expectedVersion, s.now(), messages)
		if err != nil {
			return classifyWriteError(err)
		}
		if out.Version == ConflictVersion {
			return ErrConcurrency
		}
		res = AppendResult{StreamVersion: out.Version, StreamPosition: out.Position}
		return nil
	}

	err := s.retryOnConflict(ctx, streamID, expectedVersion == AnyVersion, attempt)

	switch {
	case err == nil:
		s.metrics.appends.Inc()
		return res, nil
	case errors.Is(err, ErrConcurrency):
		s.metrics.conflicts.Inc()
	case IsDuplicateMessage(err):
		s.metrics.duplicates.Inc()
	}
	return AppendResult{}, err
}

// retryOnConflict runs attempt once, or — when retryable — under the
// bounded exponential backoff policy for concurrency conflicts. Conflicts
// are the only retried failure; everything else is fatal on first sight.
func (s *Store) retryOnConflict(ctx context.Context, streamID string, retryable bool, attempt func() error) error {
	if !retryable {
		return attempt()
	}

	err := retry.Call(retry.CallArgs{
		Func: attempt,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, ErrConcurrency)
		},
		NotifyFunc: func(lastError error, n int) {
			s.metrics.appendRetries.Inc()
			s.log.Debug("write conflict, retrying",
				"stream_id", streamID, "attempt", n)
		},
		Attempts:    s.retryAttempts,
		Delay:       appendRetryMinDelay,
		MaxDelay:    appendRetryMaxDelay,
		BackoffFunc: retry.ExpBackoff(appendRetryMinDelay, appendRetryMaxDelay, appendRetryFactor, true),
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	return err
}

func validateStreamID(streamID string) error {
	if streamID == "" {
		return invalidf("streamId", "is required")
	}
	if strings.HasPrefix(streamID, "$") {
		return invalidf("streamId", "must not begin with $")
	}
	return nil
}

func validateExpectedVersion(expectedVersion int64) error {
	if expectedVersion < AnyVersion {
		return invalidf("expectedVersion", "must be an integer >= -2")
	}
	return nil
}

func validateMessages(messages []NewMessage) error {
	for _, m := range messages {
		if m.ID == uuid.Nil {
			return invalidf("messageId", "must be a UUID")
		}
		if m.Type == "" {
			return invalidf("type", "is required")
		}
		if m.Data == nil {
			return invalidf("data", "is required")
		}
	}
	return nil
}
