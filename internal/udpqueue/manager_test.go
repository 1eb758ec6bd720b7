package udpqueue

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarax/udpqueue/internal/observability"
	"github.com/quantarax/udpqueue/internal/validation"
)

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(20, 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewManager(20, -time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewManager(-1, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	m, err := NewManager(0, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Capacity())
	assert.Equal(t, time.Nanosecond, m.Interval())
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, StatusRunning, m.Status())
}

func TestManager_Remaining(t *testing.T) {
	m := newTestManager(t, 3, 20*time.Millisecond)

	assert.Equal(t, 3, m.Remaining(11))
	for i := 0; i < 2; i++ {
		require.True(t, m.Enqueue(11, testDest, []byte{byte(i)}, nil))
	}
	assert.Equal(t, 1, m.Remaining(11))

	for i := 0; i < 3; i++ {
		require.True(t, m.Enqueue(11, testDest, []byte{byte(i)}, nil))
	}
	assert.Equal(t, 0, m.Remaining(11))
	assert.Equal(t, Stats{Flows: 1, Pending: 5, Status: StatusRunning}, m.Stats())
}

func TestManager_EnqueueRejectsInvalidDestination(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, 20, 20*time.Millisecond, WithMetrics(metrics))

	assert.False(t, m.Enqueue(1, netip.AddrPort{}, []byte("x"), nil))
	assert.Equal(t, 0, m.Stats().Flows)

	assert.False(t, m.Enqueue(1, netip.MustParseAddrPort("127.0.0.1:0"), []byte("x"), nil))
	assert.Equal(t, 0, m.Stats().Flows)
	assert.Equal(t, 20, m.Remaining(1))

	err := m.QueuePacket(1, "not-an-ip", 5000, []byte("x"), nil)
	assert.ErrorIs(t, err, validation.ErrInvalidDestination)

	err = m.QueuePacket(1, "127.0.0.1", 0, []byte("x"), nil)
	assert.ErrorIs(t, err, validation.ErrInvalidDestination)

	assert.Equal(t, 0, m.Stats().Flows)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.PacketsRejectedTotal.WithLabelValues("invalid_destination")))
}

func TestManager_QueuePacketCopiesBuffer(t *testing.T) {
	m := newTestManager(t, 20, time.Millisecond)
	conn := &recordingConn{}

	buf := []byte("hello")
	require.NoError(t, m.QueuePacket(3, "127.0.0.1", 5000, buf, nil))
	copy(buf, "XXXXX")

	startDispatcher(t, m, conn)
	sends := conn.waitSends(t, 1, time.Second)
	assert.Equal(t, []byte("hello"), sends[0].payload)
	assert.Equal(t, testDest, sends[0].dest)
}

func TestManager_ShutdownWithoutDispatcher(t *testing.T) {
	m := newTestManager(t, 20, 20*time.Millisecond)
	require.True(t, m.Enqueue(1, testDest, []byte("x"), nil))

	m.Shutdown()
	assert.Equal(t, StatusDestroyed, m.Status())
	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed once destroyed")
	}

	// idempotent
	m.Shutdown()
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Run(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, m.RunWithSockets(context.Background(), &Sockets{V4: &recordingConn{}}), ErrNotRunning)
}

func TestManager_LifecycleAfterShutdown(t *testing.T) {
	m := newTestManager(t, 20, 10*time.Millisecond)
	conn := &recordingConn{}
	startDispatcher(t, m, conn)

	for i := 0; i < 100; i++ {
		require.True(t, m.Enqueue(5, testDest, []byte{byte(i)}, nil))
	}
	conn.waitSends(t, 2, time.Second)

	m.Shutdown()
	m.WaitDestroyed()
	assert.Equal(t, StatusDestroyed, m.Status())

	sent := conn.count()
	assert.Less(t, sent, 100, "shutdown stops without draining")

	assert.False(t, m.Enqueue(5, testDest, []byte("late"), nil))
	assert.ErrorIs(t, m.QueuePacket(6, "127.0.0.1", 5000, []byte("late"), nil), ErrNotRunning)

	// delete still works after shutdown
	assert.True(t, m.DeleteFlow(5))
	assert.False(t, m.DeleteFlow(5))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, conn.count(), "no sends after destroyed")
}

func TestManager_ContextCancelShutsDown(t *testing.T) {
	m := newTestManager(t, 20, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- m.RunWithSockets(ctx, &Sockets{V4: &recordingConn{}}) }()

	cancel()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, StatusDestroyed, m.Status())
}

func TestManager_SecondDispatcherRejected(t *testing.T) {
	m := newTestManager(t, 20, 10*time.Millisecond)
	conn := &recordingConn{}
	startDispatcher(t, m, conn)

	require.True(t, m.Enqueue(1, testDest, []byte("x"), nil))
	conn.waitSends(t, 1, time.Second)

	err := m.RunWithSockets(context.Background(), &Sockets{V4: &recordingConn{}})
	assert.ErrorIs(t, err, ErrDispatcherActive)
}

func TestManager_RunWithSocketsNeedsIPv4(t *testing.T) {
	m := newTestManager(t, 20, 10*time.Millisecond)
	defer m.Close()

	assert.ErrorIs(t, m.RunWithSockets(context.Background(), nil), ErrNoIPv4Transport)
	assert.ErrorIs(t, m.RunWithSockets(context.Background(), &Sockets{V6: &recordingConn{}}), ErrNoIPv4Transport)
	assert.Equal(t, StatusRunning, m.Status())
}

func TestManager_BorrowedSocketsStayOpen(t *testing.T) {
	m := newTestManager(t, 20, time.Millisecond)
	v4, v6 := &recordingConn{}, &recordingConn{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunWithSockets(ctx, &Sockets{V4: v4, V6: v6}) }()

	require.True(t, m.Enqueue(1, netip.MustParseAddrPort("[::1]:5000"), []byte("v6"), nil))
	require.True(t, m.Enqueue(2, testDest, []byte("v4"), nil))
	v6.waitSends(t, 1, time.Second)
	v4.waitSends(t, 1, time.Second)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, v4.closed)
	assert.False(t, v6.closed)
}

func TestManager_DeleteFlow(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, 20, 20*time.Millisecond, WithMetrics(metrics))

	assert.False(t, m.DeleteFlow(1))
	require.True(t, m.Enqueue(1, testDest, []byte("a"), nil))
	require.True(t, m.Enqueue(1, testDest, []byte("b"), nil))
	require.True(t, m.Enqueue(2, testDest, []byte("c"), nil))

	assert.True(t, m.DeleteFlow(1))
	assert.Equal(t, Stats{Flows: 1, Pending: 1, Status: StatusRunning}, m.Stats())
	assert.Equal(t, 20, m.Remaining(1))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FlowsDeletedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PacketsPending))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PacketsEnqueuedTotal))
}
