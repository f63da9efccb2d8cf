package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Call(func() {})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopAfterPostsBack(t *testing.T) {
	l := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopStopUnblocksCall(t *testing.T) {
	l := NewLoop(1)
	l.Stop()
	done := make(chan struct{})
	go func() {
		l.Call(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Call blocked on a stopped loop")
	}
}

func TestStepLoopTimersFireInDeadlineOrder(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	s := NewStepLoop(start)

	var order []string
	var at []time.Time
	s.After(300*time.Millisecond, func() { order = append(order, "c"); at = append(at, s.Now()) })
	s.After(100*time.Millisecond, func() { order = append(order, "a"); at = append(at, s.Now()) })
	s.After(200*time.Millisecond, func() { order = append(order, "b"); at = append(at, s.Now()) })

	s.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, start.Add(100*time.Millisecond), at[0])
	assert.Equal(t, start.Add(250*time.Millisecond), s.Now())
	assert.Equal(t, 1, s.Pending())

	s.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestStepLoopStoppedTimerDoesNotFire(t *testing.T) {
	s := NewStepLoop(time.Unix(0, 0))
	fired := false
	tm := s.After(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	s.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestEveryRearmsUntilStopped(t *testing.T) {
	s := NewStepLoop(time.Unix(0, 0))
	n := 0
	stop := Every(s, time.Second, func() { n++ })
	s.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, n)
	stop()
	s.Advance(5 * time.Second)
	assert.Equal(t, 3, n)
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventTradeRecorded, 1)
	b.Publish(EventTradeRecorded, 1)
	b.Publish(EventTradeRecorded, 2)
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, int64(1), b.Dropped())
	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
}
