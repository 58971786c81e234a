package streamstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStream_AppendAndReadBack(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := newMessages(5)
	res, err := s.Append(ctx, "s1", NoStream, first)
	require.NoError(t, err)
	require.Equal(t, int64(4), res.StreamVersion)

	second := newMessages(2)
	res, err = s.Append(ctx, "s1", 4, second)
	require.NoError(t, err)
	require.Equal(t, int64(6), res.StreamVersion)

	page, err := s.ReadStream(ctx, "s1", 0, 100, Forward)
	require.NoError(t, err)

	require.Len(t, page.Messages, 7)
	assert.True(t, page.IsEnd)
	assert.Equal(t, int64(7), page.NextVersion)
	assert.Equal(t, int64(6), page.StreamVersion)

	want := append(append([]NewMessage{}, first...), second...)
	for i, m := range page.Messages {
		assert.Equal(t, int64(i), m.StreamVersion)
		assert.Equal(t, want[i].ID, m.ID)
		assert.Equal(t, want[i].Type, m.Type)
		assert.JSONEq(t, string(want[i].Data), string(m.Data))
	}
}

func TestReadStream_PartialPage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "s1", NoStream, newMessages(10))
	require.NoError(t, err)

	page, err := s.ReadStream(ctx, "s1", 0, 4, Forward)
	require.NoError(t, err)

	require.Len(t, page.Messages, 4)
	assert.False(t, page.IsEnd)
	assert.Equal(t, int64(4), page.NextVersion)

	page, err = s.ReadStream(ctx, "s1", page.NextVersion, 100, Forward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 6)
	assert.True(t, page.IsEnd)
	assert.Equal(t, int64(10), page.NextVersion)
}

func TestReadStream_Backward(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "s1", NoStream, newMessages(5))
	require.NoError(t, err)

	page, err := s.ReadStream(ctx, "s1", PositionEnd, 2, Backward)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.False(t, page.IsEnd)
	assert.Equal(t, int64(4), page.Messages[0].StreamVersion)
	assert.Equal(t, int64(3), page.Messages[1].StreamVersion)
	assert.Equal(t, int64(2), page.NextVersion)

	page, err = s.ReadStream(ctx, "s1", page.NextVersion, 100, Backward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.True(t, page.IsEnd)
	assert.Equal(t, int64(0), page.NextVersion)
}

func TestReadStream_MissingStream(t *testing.T) {
	s, _ := newTestStore(t)

	page, err := s.ReadStream(context.Background(), "nope", 0, 10, Forward)
	require.NoError(t, err)

	assert.Empty(t, page.Messages)
	assert.True(t, page.IsEnd)
	assert.Equal(t, int64(0), page.StreamVersion)
	assert.Equal(t, int64(0), page.NextVersion, "a missing stream is next read from version 0")
}

func TestReadStream_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReadStream(ctx, "", 0, 10, Forward)
	assert.True(t, IsInvalidParameter(err))

	_, err = s.ReadStream(ctx, "s1", -1, 10, Forward)
	assert.True(t, IsInvalidParameter(err))

	_, err = s.ReadStream(ctx, "s1", 0, 0, Forward)
	assert.True(t, IsInvalidParameter(err))
}

func TestReadAll_ForwardAndBackward(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "a", NoStream, newMessages(3))
	require.NoError(t, err)
	_, err = s.Append(ctx, "b", NoStream, newMessages(3))
	require.NoError(t, err)

	page, err := s.ReadAll(ctx, PositionStart, 100, Forward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 6)
	assert.True(t, page.IsEnd)
	assert.Equal(t, int64(7), page.NextPosition)
	for i := 1; i < len(page.Messages); i++ {
		assert.Greater(t, page.Messages[i].Position, page.Messages[i-1].Position)
	}

	page, err = s.ReadAll(ctx, PositionEnd, 4, Backward)
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.False(t, page.IsEnd)
	assert.Equal(t, int64(6), page.Messages[0].Position)
	assert.Equal(t, int64(2), page.NextPosition)
}

func TestReadAll_EndSentinelForward(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "a", NoStream, newMessages(3))
	require.NoError(t, err)

	page, err := s.ReadAll(ctx, PositionEnd, 10, Forward)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.True(t, page.IsEnd)
	assert.Equal(t, PositionEnd, page.NextPosition, "empty forward page keeps the input position")
}

func TestReadAll_EmptyBackwardPointsAtZero(t *testing.T) {
	s, _ := newTestStore(t)

	page, err := s.ReadAll(context.Background(), PositionStart, 10, Backward)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Equal(t, int64(0), page.NextPosition)
}

func TestReadHeadPosition(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	head, err := s.ReadHeadPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head, "empty store head is 0")

	_, err = s.Append(ctx, "a", NoStream, newMessages(4))
	require.NoError(t, err)

	head, err = s.ReadHeadPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), head)
}
