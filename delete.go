package streamstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// deletedPayload is the wire shape of a MessageTypeStreamDeleted marker on
// the "$deleted" log.
type deletedPayload struct {
	StreamID string `json:"streamId"`
}

// DeleteStream removes a stream: its messages, its stream row and its
// metadata stream, and appends a deletion marker to the "$deleted" log, all
// in one storage transaction.
//
// expectedVersion follows the Append contract, including the internal retry
// for AnyVersion. The stream id may be re-created afterwards only by an
// append with AnyVersion.
func (s *Store) DeleteStream(ctx context.Context, streamID string, expectedVersion int64) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}
	if err := validateExpectedVersion(expectedVersion); err != nil {
		return err
	}
	if err := s.checkDisposed(); err != nil {
		return err
	}

	data, err := json.Marshal(deletedPayload{StreamID: streamID})
	if err != nil {
		return fmt.Errorf("encode deletion marker: %w", err)
	}
	marker := NewMessage{
		ID:   uuid.New(),
		Type: MessageTypeStreamDeleted,
		Data: data,
	}

	exit := s.writes.Enter()
	defer exit()

	attempt := func() error {
		return classifyWriteError(
			s.driver.DeleteStream(ctx, streamID, expectedVersion, s.now(), marker))
	}

	err = s.retryOnConflict(ctx, streamID, expectedVersion == AnyVersion, attempt)
	if IsConcurrency(err) {
		s.metrics.conflicts.Inc()
	}
	return err
}

// DeleteMessage removes a single message from a stream. The versions and
// positions of the remaining messages do not shift; deletion leaves a hole,
// it never renumbers.
func (s *Store) DeleteMessage(ctx context.Context, streamID string, messageID uuid.UUID) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	exit := s.writes.Enter()
	defer exit()

	return s.driver.DeleteMessage(ctx, streamID, messageID)
}
