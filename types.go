package streamstore

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Expected-version sentinels accepted by Append, SetStreamMetadata and
// DeleteStream alongside any concrete version >= 0.
const (
	// AnyVersion skips the optimistic concurrency check. Conflicting appends
	// are retried internally until the store finds a slot.
	AnyVersion int64 = -2

	// NoStream asserts the stream does not exist yet (or holds no messages).
	NoStream int64 = -1
)

// Position sentinels for ReadAll and subscriptions.
const (
	// PositionStart reads from the beginning of the all-stream.
	PositionStart int64 = 0

	// PositionEnd reads from the end. Forward reads from PositionEnd return
	// an empty page with IsEnd set; backward reads return the tail.
	PositionEnd int64 = math.MaxInt64
)

// ConflictVersion is the sentinel a Driver returns in AppendOutcome.Version
// (and from SetMetadata) when the expected-version check failed inside the
// storage transaction.
const ConflictVersion int64 = -9

// Operational names reserved by the store. Stream ids beginning with "$" are
// not writable through the public API.
const (
	// DeletedStreamID is the global deletion log. Every DeleteStream appends
	// a MessageTypeStreamDeleted marker here.
	DeletedStreamID = "$deleted"

	// MessageTypeStreamMetadata marks a metadata message in a "$$<streamId>"
	// companion stream.
	MessageTypeStreamMetadata = "$streamMetadata"

	// MessageTypeStreamDeleted marks a deletion record on DeletedStreamID.
	MessageTypeStreamDeleted = "$streamDeleted"
)

// MetadataStreamID returns the id of the companion stream that holds metadata
// for streamID.
func MetadataStreamID(streamID string) string {
	return "$$" + streamID
}

// Direction selects the scan order of a read.
type Direction int

const (
	// Forward reads in ascending version/position order.
	Forward Direction = iota
	// Backward reads in descending version/position order.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// NewMessage is a message to be appended.
type NewMessage struct {
	// ID must be a non-nil UUID, globally unique across the store.
	ID uuid.UUID
	// Type is the application-defined message type. Required.
	Type string
	// Data is the message payload. Required.
	Data json.RawMessage
	// Meta is an optional metadata payload.
	Meta json.RawMessage
}

// Message is a persisted message as returned by reads and subscriptions.
type Message struct {
	ID            uuid.UUID
	StreamID      string
	Type          string
	Data          json.RawMessage
	Meta          json.RawMessage
	StreamVersion int64
	Position      int64
	CreatedAt     time.Time
}

// AppendResult reports where an append landed.
type AppendResult struct {
	// StreamVersion is the version of the last message written.
	StreamVersion int64
	// StreamPosition is the global position of the last message written.
	StreamPosition int64
}

// ReadStreamPage is one page of a single-stream read.
type ReadStreamPage struct {
	StreamID string
	// StreamVersion is the stream head version at read time (0 when the
	// stream does not exist).
	StreamVersion int64
	// StreamPosition is the global position of the stream head at read time.
	StreamPosition int64
	// NextVersion is the version to pass as "from" to continue the scan.
	NextVersion int64
	// IsEnd reports that no further messages existed in the scan direction
	// when the page was read.
	IsEnd    bool
	Messages []Message
}

// ReadAllPage is one page of an all-stream read.
type ReadAllPage struct {
	Messages []Message
	// NextPosition is the position to pass as "from" to continue the scan.
	NextPosition int64
	IsEnd        bool
}

// StreamMetadata is the authoritative metadata of a stream: the latest
// MessageTypeStreamMetadata message of its companion stream.
type StreamMetadata struct {
	// Metadata is the caller-defined metadata payload. May be nil.
	Metadata json.RawMessage
	// MaxAge is a retention hint in seconds. Nil means unbounded.
	MaxAge *int64
	// MaxCount is a retention hint in message count. Nil means unbounded.
	MaxCount *int64
}

// StreamMetadataResult is the result of GetStreamMetadata.
type StreamMetadataResult struct {
	StreamID string
	// MetadataStreamVersion is the version of the metadata message this
	// result was built from, or NoStream when no metadata was ever set.
	MetadataStreamVersion int64
	StreamMetadata
}

// AppendOutcome is what a Driver reports back from an append transaction.
type AppendOutcome struct {
	// Version is the stream version of the last message written, or
	// the conflict sentinel -9 when the expected-version check failed.
	Version int64
	// Position is the global position of the last message written.
	Position int64
	// MaxAge and MaxCount are the stream's retention hints, surfaced for
	// scavenging. Not returned to append callers.
	MaxAge   *int64
	MaxCount *int64
}

// StreamInfo describes a stream head as stored.
type StreamInfo struct {
	Exists bool
	// Version of the last message, NoStream when the stream holds none.
	Version int64
	// Position of the last message.
	Position int64
	MaxAge   *int64
	MaxCount *int64
}

// StreamSlice is a raw single-stream read: a window of messages plus the
// stream head info, read after the messages so the info is never behind them.
type StreamSlice struct {
	Messages []Message
	Info     StreamInfo
}

// Driver executes the primitive storage operations, each in a single
// transaction. The pg subpackage provides the PostgreSQL implementation.
//
// Append and SetMetadata signal an expected-version mismatch either by
// returning the -9 version sentinel or by surfacing a unique-constraint
// violation; the store classifies both. DeleteStream signals it with
// ErrVersionConflict.
type Driver interface {
	// Append writes messages to streamID after checking expectedVersion.
	Append(ctx context.Context, streamID string, expectedVersion int64, now time.Time, messages []NewMessage) (AppendOutcome, error)

	// SetMetadata appends msg to the metadata stream of streamID (checking
	// expectedVersion against that stream) and records the retention hints
	// on the target stream, all in one transaction. It returns the new
	// metadata stream version.
	SetMetadata(ctx context.Context, streamID, metaStreamID string, expectedVersion int64, now time.Time, msg NewMessage, maxAge, maxCount *int64) (int64, error)

	// ReadStream reads up to count messages of one stream starting at the
	// given version, plus the stream head info.
	ReadStream(ctx context.Context, streamID string, fromVersion int64, count int, dir Direction) (StreamSlice, error)

	// ReadAll reads up to count messages across all streams starting at the
	// given global position.
	ReadAll(ctx context.Context, fromPosition int64, count int, dir Direction) ([]Message, error)

	// ReadHead returns the highest global position, 0 when the store is empty.
	ReadHead(ctx context.Context) (int64, error)

	// DeleteStream removes a stream, its messages and its metadata stream,
	// and appends marker to the deletion log, all in one transaction.
	DeleteStream(ctx context.Context, streamID string, expectedVersion int64, now time.Time, marker NewMessage) error

	// DeleteMessage removes a single message. Versions and positions of the
	// remaining messages are unaffected.
	DeleteMessage(ctx context.Context, streamID string, messageID uuid.UUID) error

	// Close releases the underlying connection pool.
	Close()
}
