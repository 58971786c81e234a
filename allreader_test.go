package streamstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// msgsAt builds messages occupying the given global positions.
func msgsAt(positions ...int64) []Message {
	out := make([]Message, len(positions))
	for i, p := range positions {
		out[i] = Message{
			ID:       uuid.New(),
			StreamID: "s",
			Type:     "test",
			Data:     []byte(`{}`),
			Position: p,
		}
	}
	return out
}

func positionsOf(messages []Message) []int64 {
	out := make([]int64, len(messages))
	for i, m := range messages {
		out[i] = m.Position
	}
	return out
}

func TestReadAllGapped_ReloadFillsGap(t *testing.T) {
	s, drv := newTestStore(t, WithGapReload(time.Millisecond, 1))
	drv.readAllPages = [][]Message{
		msgsAt(3, 5, 6),
		msgsAt(3, 4, 5),
	}

	messages, err := s.readAllGapped(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, positionsOf(messages))
	assert.Equal(t, 2, drv.readAllCalls)
}

func TestReadAllGapped_PersistentGapIsAccepted(t *testing.T) {
	s, drv := newTestStore(t, WithGapReload(time.Millisecond, 1))
	drv.readAllPages = [][]Message{
		msgsAt(3, 5, 6),
		msgsAt(3, 5, 6),
	}

	messages, err := s.readAllGapped(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 6}, positionsOf(messages),
		"a gap that survives the reload belongs to a rolled-back transaction")
	assert.Equal(t, 2, drv.readAllCalls)
}

func TestReadAllGapped_ShortPageSkipsDetection(t *testing.T) {
	s, drv := newTestStore(t, WithGapReload(time.Millisecond, 1))
	drv.readAllPages = [][]Message{
		msgsAt(3, 5),
	}

	messages, err := s.readAllGapped(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, positionsOf(messages),
		"the sparse tail of the log is not a gap")
	assert.Equal(t, 1, drv.readAllCalls)
}

func TestReadAllGapped_ContiguousPageReturnsImmediately(t *testing.T) {
	s, drv := newTestStore(t, WithGapReload(time.Millisecond, 1))
	drv.readAllPages = [][]Message{
		msgsAt(3, 4, 5),
	}

	messages, err := s.readAllGapped(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, positionsOf(messages))
	assert.Equal(t, 1, drv.readAllCalls)
}

func TestReadAllGapped_CancelDuringReloadDelay(t *testing.T) {
	s, drv := newTestStore(t, WithGapReload(time.Minute, 1))
	drv.readAllPages = [][]Message{
		msgsAt(3, 5, 6),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.readAllGapped(ctx, 3, 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHasPositionGap(t *testing.T) {
	assert.False(t, hasPositionGap(nil))
	assert.False(t, hasPositionGap(msgsAt(1)))
	assert.False(t, hasPositionGap(msgsAt(1, 2, 3)))
	assert.True(t, hasPositionGap(msgsAt(1, 3)))
	assert.True(t, hasPositionGap(msgsAt(1, 2, 5, 6)))
}
