package streamstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// metadataPayload is the wire shape of a MessageTypeStreamMetadata message.
type metadataPayload struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
	MaxAge   *int64          `json:"maxAge,omitempty"`
	MaxCount *int64          `json:"maxCount,omitempty"`
}

// GetStreamMetadata returns the authoritative metadata of streamID: the
// latest metadata message of its "$$<streamId>" companion stream. When no
// metadata was ever set, MetadataStreamVersion is NoStream and the rest is
// zero.
func (s *Store) GetStreamMetadata(ctx context.Context, streamID string) (StreamMetadataResult, error) {
	if err := validateStreamID(streamID); err != nil {
		return StreamMetadataResult{}, err
	}

	page, err := s.ReadStream(ctx, MetadataStreamID(streamID), PositionEnd, 1, Backward)
	if err != nil {
		return StreamMetadataResult{}, err
	}
	if len(page.Messages) == 0 {
		return StreamMetadataResult{
			StreamID:              streamID,
			MetadataStreamVersion: NoStream,
		}, nil
	}

	last := page.Messages[0]
	var payload metadataPayload
	if err := json.Unmarshal(last.Data, &payload); err != nil {
		return StreamMetadataResult{}, fmt.Errorf("decode metadata message %s: %w", last.ID, err)
	}

	return StreamMetadataResult{
		StreamID:              streamID,
		MetadataStreamVersion: last.StreamVersion,
		StreamMetadata: StreamMetadata{
			Metadata: payload.Metadata,
			MaxAge:   payload.MaxAge,
			MaxCount: payload.MaxCount,
		},
	}, nil
}

// SetStreamMetadata appends a metadata message to the companion stream of
// streamID and records the retention hints on the stream itself.
// expectedVersion is checked against the companion stream and is never
// retried; a mismatch fails with ErrConcurrency. It returns the new version
// of the companion stream.
func (s *Store) SetStreamMetadata(ctx context.Context, streamID string, expectedVersion int64, metadata StreamMetadata) (int64, error) {
	if err := validateStreamID(streamID); err != nil {
		return 0, err
	}
	if err := validateExpectedVersion(expectedVersion); err != nil {
		return 0, err
	}
	if metadata.MaxAge != nil && *metadata.MaxAge <= 0 {
		return 0, invalidf("maxAge", "must be greater than 0")
	}
	if metadata.MaxCount != nil && *metadata.MaxCount <= 0 {
		return 0, invalidf("maxCount", "must be greater than 0")
	}
	if err := s.checkDisposed(); err != nil {
		return 0, err
	}

	data, err := json.Marshal(metadataPayload{
		Metadata: metadata.Metadata,
		MaxAge:   metadata.MaxAge,
		MaxCount: metadata.MaxCount,
	})
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	msg := NewMessage{
		ID:   uuid.New(),
		Type: MessageTypeStreamMetadata,
		Data: data,
	}

	exit := s.writes.Enter()
	defer exit()

	version, err := s.driver.SetMetadata(ctx, streamID, MetadataStreamID(streamID),
		expectedVersion, s.now(), msg, metadata.MaxAge, metadata.MaxCount)
	if err != nil {
		err = classifyWriteError(err)
		if IsConcurrency(err) {
			s.metrics.conflicts.Inc()
		}
		return 0, err
	}
	if version == ConflictVersion {
		s.metrics.conflicts.Inc()
		return 0, ErrConcurrency
	}

	s.metrics.appends.Inc()
	return version, nil
}
