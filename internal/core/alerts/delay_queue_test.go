package alerts

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayQueue_RunsOncePerKey(t *testing.T) {
	q := NewDelayQueue()
	defer q.Stop()

	var runs int32
	q.Schedule("a", 20*time.Millisecond, func() { atomic.AddInt32(&runs, 100) })
	q.Schedule("a", 5*time.Millisecond, func() { atomic.AddInt32(&runs, 1) })

	require.Eventually(t, func() bool { return !q.Pending("a") }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestDelayQueue_Cancel(t *testing.T) {
	q := NewDelayQueue()
	defer q.Stop()

	var ran int32
	q.Schedule("a", 10*time.Millisecond, func() { atomic.StoreInt32(&ran, 1) })

	assert.True(t, q.Cancel("a"))
	assert.False(t, q.Cancel("a"))
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestDelayQueue_StopRejectsNewTasks(t *testing.T) {
	q := NewDelayQueue()
	q.Schedule("a", time.Hour, func() {})
	q.Stop()

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Schedule("b", time.Millisecond, func() {}))
}
