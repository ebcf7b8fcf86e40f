package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/stream"
)

type collectSink struct {
	mx     sync.Mutex
	points []coord.Point
}

func (s *collectSink) Publish(p coord.Point) {
	s.mx.Lock()
	s.points = append(s.points, p)
	s.mx.Unlock()
}

func (s *collectSink) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.points)
}

func TestConsume(t *testing.T) {
	q := stream.NewQueue(16)
	sink := &collectSink{}
	done := make(chan progress, 1)
	go func() { done <- consume(q, sink, time.Millisecond) }()

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, coord.Point{X: 1}))
	require.Eventually(t, func() bool { return sink.Len() == 1 }, time.Second, time.Millisecond)

	// points queued before Close are still delivered
	require.NoError(t, q.Push(ctx, coord.Point{X: 3, Z: 4}))
	require.NoError(t, q.Push(ctx, coord.Point{Y: 2}))
	q.Close()

	select {
	case pr := <-done:
		assert.Equal(t, uint64(3), pr.Total)
		assert.InDelta(t, 5, pr.Farthest, 1e-12)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after Close")
	}
	assert.Equal(t, []coord.Point{{X: 1}, {X: 3, Z: 4}, {Y: 2}}, sink.points)
}
