package stream

import (
	"context"
	"testing"
	"time"

	"github.com/itsneelabh/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkSource(deltas ...string) ChunkSource {
	return func(ctx context.Context, onChunk func(domain.StreamChunk) error) error {
		for i, d := range deltas {
			final := i == len(deltas)-1
			if err := onChunk(domain.StreamChunk{Delta: d, Final: final}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestRunTagsMonotoneIndices(t *testing.T) {
	s := New(DefaultConfig(), nil)
	var got []domain.StreamChunk
	var completed int
	err := s.Run(context.Background(), chunkSource("a", "b", "c"), func(c domain.StreamChunk) error {
		got = append(got, c)
		return nil
	}, Callbacks{OnComplete: func(n int) { completed = n }})

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, 2, got[2].Index)
	assert.True(t, got[2].Final)
	assert.Equal(t, 3, completed)
}

func TestRunDetectsToolCallMarker(t *testing.T) {
	s := New(DefaultConfig(), nil)
	var got []domain.StreamChunk
	err := s.Run(context.Background(), chunkSource("calling a ", "tool_call now"), func(c domain.StreamChunk) error {
		got = append(got, c)
		return nil
	}, Callbacks{})

	require.NoError(t, err)
	assert.Equal(t, "true", got[1].Metadata["toolCallDetected"])
}

func TestRunFiresOnErrorWhenSourceFails(t *testing.T) {
	s := New(DefaultConfig(), nil)
	boom := context.DeadlineExceeded
	src := func(ctx context.Context, onChunk func(domain.StreamChunk) error) error {
		return boom
	}
	var gotErr error
	err := s.Run(context.Background(), src, func(c domain.StreamChunk) error { return nil }, Callbacks{
		OnError: func(e error) { gotErr = e },
	})
	require.Error(t, err)
	assert.Equal(t, boom, gotErr)
}

func TestRunFiresOnCancelWhenContextCancelled(t *testing.T) {
	s := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	src := func(ctx context.Context, onChunk func(domain.StreamChunk) error) error {
		<-block
		return nil
	}
	var cancelled bool
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, src, func(c domain.StreamChunk) error { return nil }, Callbacks{
			OnCancel: func(reason string) { cancelled = true },
		})
		close(done)
	}()
	cancel()
	<-done
	close(block)
	assert.True(t, cancelled)
}

func TestRunEnforcesIdleTimeout(t *testing.T) {
	s := New(Config{Backpressure: Buffer, BufferSize: 4, IdleTimeout: 10 * time.Millisecond}, nil)
	block := make(chan struct{})
	src := func(ctx context.Context, onChunk func(domain.StreamChunk) error) error {
		<-block
		return nil
	}
	var timedOut bool
	err := s.Run(context.Background(), src, func(c domain.StreamChunk) error { return nil }, Callbacks{
		OnError: func(e error) { timedOut = true },
	})
	close(block)
	require.Error(t, err)
	assert.True(t, timedOut)
}

func TestDropOldestKeepsBufferBounded(t *testing.T) {
	s := New(Config{Backpressure: DropOldest, BufferSize: 2, IdleTimeout: time.Second}, nil)
	err := s.Run(context.Background(), chunkSource("a", "b", "c", "d"), func(c domain.StreamChunk) error {
		return nil
	}, Callbacks{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(s.buf), 2)
}

func TestLatestKeepsOnlyMostRecent(t *testing.T) {
	s := New(Config{Backpressure: Latest, IdleTimeout: time.Second}, nil)
	err := s.Run(context.Background(), chunkSource("a", "b", "c"), func(c domain.StreamChunk) error {
		return nil
	}, Callbacks{})
	require.NoError(t, err)
	require.Len(t, s.buf, 1)
	assert.Equal(t, "c", s.buf[0].Delta)
}

func TestErrorOnOverflowPassesThroughUnderCapacity(t *testing.T) {
	s := New(Config{Backpressure: ErrorOnOverflow, BufferSize: 4, IdleTimeout: time.Second}, nil)
	var delivered int
	err := s.Run(context.Background(), chunkSource("a", "b"), func(c domain.StreamChunk) error {
		delivered++
		return nil
	}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
}
