package streamstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// memDriver is an in-memory Driver used by the unit tests. It mirrors the
// storage contract closely enough to exercise the store's protocol logic:
// dense per-stream versions, a global position sequence, the -9 conflict
// sentinel and pg-shaped unique violations for duplicate message ids.
type memDriver struct {
	mu      sync.Mutex
	streams map[string]*memStream
	byID    map[uuid.UUID]struct{}
	all     []Message
	nextPos int64
	closed  bool

	// appendHook, when set, runs before each append under the lock; a
	// non-nil return is surfaced as the driver error.
	appendHook func(streamID string, expectedVersion int64) error
	// appendGate, when set, is received from outside the lock before each
	// append proceeds. appendStarted, when set, is sent to first, so a test
	// can tell the append is in flight before releasing the gate.
	appendGate    chan struct{}
	appendStarted chan struct{}
	// readAllPages, when non-empty, scripts the responses of successive
	// forward ReadAll calls (trimmed to the requested count).
	readAllPages [][]Message

	readAllCalls int
}

type memStream struct {
	version  int64
	position int64
	maxAge   *int64
	maxCount *int64
	messages []Message
}

func newMemDriver() *memDriver {
	return &memDriver{
		streams: make(map[string]*memStream),
		byID:    make(map[uuid.UUID]struct{}),
		nextPos: 1,
	}
}

func (d *memDriver) Append(ctx context.Context, streamID string, expectedVersion int64, now time.Time, messages []NewMessage) (AppendOutcome, error) {
	if d.appendStarted != nil {
		d.appendStarted <- struct{}{}
	}
	if d.appendGate != nil {
		select {
		case <-d.appendGate:
		case <-ctx.Done():
			return AppendOutcome{}, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.appendHook != nil {
		if err := d.appendHook(streamID, expectedVersion); err != nil {
			return AppendOutcome{}, err
		}
	}
	return d.appendLocked(streamID, expectedVersion, now, messages)
}

func (d *memDriver) appendLocked(streamID string, expectedVersion int64, now time.Time, messages []NewMessage) (AppendOutcome, error) {
	st := d.streams[streamID]

	version := NoStream
	position := int64(0)
	if st != nil {
		version = st.version
		position = st.position
	}
	if expectedVersion != AnyVersion && expectedVersion != version {
		return AppendOutcome{Version: ConflictVersion}, nil
	}

	for _, m := range messages {
		if _, dup := d.byID[m.ID]; dup {
			return AppendOutcome{}, &pgconn.PgError{
				Code:           "23505",
				ConstraintName: "message_message_id_key",
				Detail:         fmt.Sprintf("Key (message_id)=(%s) already exists.", m.ID),
			}
		}
	}

	if st == nil {
		st = &memStream{version: NoStream}
		d.streams[streamID] = st
	}
	for _, m := range messages {
		version++
		position = d.nextPos
		d.nextPos++

		stored := Message{
			ID:            m.ID,
			StreamID:      streamID,
			Type:          m.Type,
			Data:          m.Data,
			Meta:          m.Meta,
			StreamVersion: version,
			Position:      position,
			CreatedAt:     now,
		}
		st.messages = append(st.messages, stored)
		d.all = append(d.all, stored)
		d.byID[m.ID] = struct{}{}
	}
	if len(messages) > 0 {
		st.version = version
		st.position = position
	}

	return AppendOutcome{
		Version:  version,
		Position: position,
		MaxAge:   st.maxAge,
		MaxCount: st.maxCount,
	}, nil
}

func (d *memDriver) SetMetadata(ctx context.Context, streamID, metaStreamID string, expectedVersion int64, now time.Time, msg NewMessage, maxAge, maxCount *int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, err := d.appendLocked(metaStreamID, expectedVersion, now, []NewMessage{msg})
	if err != nil || out.Version == ConflictVersion {
		return ConflictVersion, err
	}

	st := d.streams[streamID]
	if st == nil {
		st = &memStream{version: NoStream}
		d.streams[streamID] = st
	}
	st.maxAge = maxAge
	st.maxCount = maxCount
	return out.Version, nil
}

func (d *memDriver) ReadStream(ctx context.Context, streamID string, fromVersion int64, count int, dir Direction) (StreamSlice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.streams[streamID]
	if st == nil || st.version == NoStream {
		exists := st != nil
		var info StreamInfo
		if exists {
			info = StreamInfo{Exists: true, Version: NoStream, MaxAge: st.maxAge, MaxCount: st.maxCount}
		}
		return StreamSlice{Info: info}, nil
	}

	var out []Message
	if dir == Forward {
		for _, m := range st.messages {
			if m.StreamVersion >= fromVersion && len(out) < count {
				out = append(out, m)
			}
		}
	} else {
		for i := len(st.messages) - 1; i >= 0; i-- {
			if m := st.messages[i]; m.StreamVersion <= fromVersion && len(out) < count {
				out = append(out, m)
			}
		}
	}

	return StreamSlice{
		Messages: out,
		Info: StreamInfo{
			Exists:   true,
			Version:  st.version,
			Position: st.position,
			MaxAge:   st.maxAge,
			MaxCount: st.maxCount,
		},
	}, nil
}

func (d *memDriver) ReadAll(ctx context.Context, fromPosition int64, count int, dir Direction) ([]Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir == Forward && len(d.readAllPages) > 0 {
		page := d.readAllPages[0]
		d.readAllPages = d.readAllPages[1:]
		d.readAllCalls++
		if len(page) > count {
			page = page[:count]
		}
		return page, nil
	}
	d.readAllCalls++

	var out []Message
	if dir == Forward {
		for _, m := range d.all {
			if m.Position >= fromPosition && len(out) < count {
				out = append(out, m)
			}
		}
	} else {
		for i := len(d.all) - 1; i >= 0; i-- {
			if m := d.all[i]; m.Position <= fromPosition && len(out) < count {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (d *memDriver) ReadHead(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.all) == 0 {
		return 0, nil
	}
	return d.all[len(d.all)-1].Position, nil
}

func (d *memDriver) DeleteStream(ctx context.Context, streamID string, expectedVersion int64, now time.Time, marker NewMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.streams[streamID]
	version := NoStream
	if st != nil {
		version = st.version
	}
	if expectedVersion != AnyVersion && expectedVersion != version {
		return ErrVersionConflict
	}
	if st == nil {
		return nil
	}

	d.dropStreamLocked(streamID)
	d.dropStreamLocked(MetadataStreamID(streamID))
	_, err := d.appendLocked(DeletedStreamID, AnyVersion, now, []NewMessage{marker})
	return err
}

func (d *memDriver) dropStreamLocked(streamID string) {
	st := d.streams[streamID]
	if st == nil {
		return
	}
	delete(d.streams, streamID)

	kept := d.all[:0]
	for _, m := range d.all {
		if m.StreamID == streamID {
			delete(d.byID, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	d.all = kept
}

func (d *memDriver) DeleteMessage(ctx context.Context, streamID string, messageID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.streams[streamID]
	if st == nil {
		return nil
	}
	for i, m := range st.messages {
		if m.ID == messageID {
			st.messages = append(st.messages[:i], st.messages[i+1:]...)
			break
		}
	}
	for i, m := range d.all {
		if m.StreamID == streamID && m.ID == messageID {
			d.all = append(d.all[:i], d.all[i+1:]...)
			delete(d.byID, messageID)
			break
		}
	}
	return nil
}

func (d *memDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *memDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// newMessages builds n messages with fresh ids.
func newMessages(n int) []NewMessage {
	out := make([]NewMessage, n)
	for i := range out {
		out[i] = NewMessage{
			ID:   uuid.New(),
			Type: "test",
			Data: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return out
}
