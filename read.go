package streamstore

import "context"

// ReadStream reads up to count messages of one stream starting at fromVersion
// (inclusive), in the given direction. Pass PositionEnd as fromVersion to
// read from the stream head.
//
// The returned page carries the stream head observed at read time and the
// version to continue the scan from. Reading a stream that does not exist
// yields the zero page with IsEnd set.
func (s *Store) ReadStream(ctx context.Context, streamID string, fromVersion int64, count int, dir Direction) (ReadStreamPage, error) {
	if streamID == "" {
		return ReadStreamPage{}, invalidf("streamId", "is required")
	}
	if fromVersion < 0 {
		return ReadStreamPage{}, invalidf("fromVersionInclusive", "must be >= 0")
	}
	if count <= 0 {
		return ReadStreamPage{}, invalidf("count", "must be greater than 0")
	}

	// Probe one row past the requested page so IsEnd costs no extra
	// round-trip. The driver reads the stream info after the messages, so a
	// concurrent append can only make the info run ahead of the page, never
	// behind it.
	slice, err := s.driver.ReadStream(ctx, streamID, fromVersion, count+1, dir)
	if err != nil {
		return ReadStreamPage{}, err
	}

	messages := slice.Messages
	isEnd := true
	if len(messages) > count {
		messages = messages[:count]
		isEnd = false
	}

	headVersion := slice.Info.Version
	if !slice.Info.Exists {
		headVersion = NoStream
	}

	page := ReadStreamPage{
		StreamID:       streamID,
		StreamVersion:  max(0, headVersion),
		StreamPosition: slice.Info.Position,
		IsEnd:          isEnd,
		Messages:       messages,
	}
	page.NextVersion = nextVersion(dir, isEnd, headVersion, messages)

	s.metrics.messagesRead.Add(float64(len(messages)))
	return page, nil
}

func nextVersion(dir Direction, isEnd bool, headVersion int64, messages []Message) int64 {
	if dir == Forward {
		if isEnd {
			return headVersion + 1
		}
		return messages[len(messages)-1].StreamVersion + 1
	}

	last := int64(0)
	if !isEnd {
		last = messages[len(messages)-1].StreamVersion
	}
	return max(0, last-1)
}

// ReadAll reads up to count messages across all streams starting at
// fromPosition (inclusive), in the given direction. Forward reads go through
// gap detection (see readAllGapped), so a subscriber never observes a
// position hole that later fills in.
func (s *Store) ReadAll(ctx context.Context, fromPosition int64, count int, dir Direction) (ReadAllPage, error) {
	if fromPosition < 0 {
		return ReadAllPage{}, invalidf("fromPositionInclusive", "must be >= 0")
	}
	if count <= 0 {
		return ReadAllPage{}, invalidf("count", "must be greater than 0")
	}

	var (
		messages []Message
		err      error
	)
	if dir == Forward {
		messages, err = s.readAllGapped(ctx, fromPosition, count+1)
	} else {
		messages, err = s.driver.ReadAll(ctx, fromPosition, count+1, Backward)
	}
	if err != nil {
		return ReadAllPage{}, err
	}

	isEnd := true
	if len(messages) > count {
		messages = messages[:count]
		isEnd = false
	}

	page := ReadAllPage{
		Messages:     messages,
		IsEnd:        isEnd,
		NextPosition: nextPosition(dir, fromPosition, messages),
	}

	s.metrics.messagesRead.Add(float64(len(messages)))
	return page, nil
}

func nextPosition(dir Direction, fromPosition int64, messages []Message) int64 {
	if len(messages) == 0 {
		if dir == Forward {
			return fromPosition
		}
		return 0
	}

	last := messages[len(messages)-1].Position
	if dir == Forward {
		return last + 1
	}
	return max(0, last-1)
}

// ReadHeadPosition returns the highest global position in the store, 0 when
// the store is empty.
func (s *Store) ReadHeadPosition(ctx context.Context) (int64, error) {
	return s.driver.ReadHead(ctx)
}
