package udpqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NewFlowsGoFirst(t *testing.T) {
	r := newRegistry(20)
	now := time.Now()

	assert.True(t, r.enqueue(1, testDest, []byte("a"), nil, now))
	assert.True(t, r.enqueue(2, testDest, []byte("b"), nil, now))
	assert.False(t, r.enqueue(1, testDest, []byte("c"), nil, now))

	f := r.next()
	require.NotNil(t, f)
	assert.Equal(t, int64(2), f.id)

	// a serviced flow goes behind the rest
	require.True(t, r.enroll(f))
	assert.Equal(t, int64(1), r.next().id)
	assert.Equal(t, int64(2), r.next().id)
	assert.Nil(t, r.next())
}

func TestRegistry_PendingTracksPackets(t *testing.T) {
	r := newRegistry(20)
	now := time.Now()
	assert.True(t, r.idle())

	r.enqueue(1, testDest, []byte("a"), nil, now)
	r.enqueue(1, testDest, []byte("b"), nil, now)
	r.enqueue(2, testDest, []byte("c"), nil, now)
	assert.Equal(t, 3, r.pending)
	assert.False(t, r.idle())

	f := r.next()
	packet, ok := r.pop(f)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), packet)
	assert.Equal(t, 2, r.pending)

	assert.True(t, r.remove(1))
	assert.Equal(t, 0, r.pending)
	assert.True(t, r.idle())
	assert.False(t, r.remove(1))
}

func TestRegistry_PacketsStayInOrder(t *testing.T) {
	r := newRegistry(20)
	now := time.Now()
	for _, p := range []string{"one", "two", "three"} {
		r.enqueue(9, testDest, []byte(p), nil, now)
	}

	f := r.next()
	var got []string
	for {
		packet, ok := r.pop(f)
		if !ok {
			break
		}
		got = append(got, string(packet))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestRegistry_Remaining(t *testing.T) {
	r := newRegistry(3)
	now := time.Now()

	assert.Equal(t, 3, r.remaining(5))
	r.enqueue(5, testDest, []byte("a"), nil, now)
	r.enqueue(5, testDest, []byte("b"), nil, now)
	assert.Equal(t, 1, r.remaining(5))

	// capacity is advisory: enqueue keeps accepting past it
	r.enqueue(5, testDest, []byte("c"), nil, now)
	r.enqueue(5, testDest, []byte("d"), nil, now)
	assert.Equal(t, 0, r.remaining(5))
	assert.Equal(t, 4, r.pending)
}

func TestRegistry_DeleteWhileServiced(t *testing.T) {
	r := newRegistry(20)
	now := time.Now()
	r.enqueue(1, testDest, []byte("old-1"), nil, now)
	r.enqueue(1, testDest, []byte("old-2"), nil, now)

	f := r.next()
	_, ok := r.pop(f)
	require.True(t, ok)

	// deleted and recreated while the dispatcher holds the old queue
	require.True(t, r.remove(1))
	r.enqueue(1, testDest, []byte("new-1"), nil, now)
	assert.Equal(t, 1, r.pending)

	assert.False(t, r.owns(f))
	assert.False(t, r.enroll(f), "stale queue must not be re-enrolled")

	fresh := r.next()
	require.NotNil(t, fresh)
	assert.NotSame(t, f, fresh)
	packet, ok := r.pop(fresh)
	require.True(t, ok)
	assert.Equal(t, []byte("new-1"), packet)
	assert.Nil(t, r.next())
	assert.Equal(t, 0, r.pending)
}

func TestRegistry_RemoveDropsOrderSlot(t *testing.T) {
	r := newRegistry(20)
	now := time.Now()
	r.enqueue(1, testDest, []byte("a"), nil, now)
	r.enqueue(2, testDest, []byte("b"), nil, now)

	require.True(t, r.remove(2))
	r.enqueue(2, testDest, []byte("c"), nil, now)

	// the recreated flow holds exactly one slot
	assert.Equal(t, 2, r.order.Len())
	assert.Equal(t, int64(2), r.next().id)
	assert.Equal(t, int64(1), r.next().id)
	assert.Nil(t, r.next())
}

func TestNextDue(t *testing.T) {
	interval := 20 * time.Millisecond
	due := time.Unix(1000, 0)

	tests := []struct {
		name      string
		late      time.Duration
		wantNext  time.Time
		wantReset bool
	}{
		{"on time", 0, due.Add(interval), false},
		{"slightly late", 5 * time.Millisecond, due.Add(interval), false},
		{"just under two intervals", 2*interval - time.Nanosecond, due.Add(interval), false},
		{"exactly two intervals", 2 * interval, due.Add(3 * interval), true},
		{"far behind", time.Second, due.Add(time.Second + interval), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, reset := nextDue(due, due.Add(tt.late), interval)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantReset, reset)
		})
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "shutdown", StatusShutdown.String())
	assert.Equal(t, "destroyed", StatusDestroyed.String())
	assert.Equal(t, "unknown(7)", Status(7).String())
}
