package udpqueue

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sendRecord struct {
	at      time.Time
	dest    netip.AddrPort
	payload []byte
}

// recordingConn is a Capability that remembers every datagram handed to it.
type recordingConn struct {
	mu     sync.Mutex
	sends  []sendRecord
	err    error
	block  func(n int) // runs outside mu for the n-th send (0-based)
	closed bool
}

func (c *recordingConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.mu.Lock()
	n := len(c.sends)
	c.sends = append(c.sends, sendRecord{at: time.Now(), dest: addr, payload: append([]byte(nil), b...)})
	block, err := c.block, c.err
	c.mu.Unlock()

	if block != nil {
		block(n)
	}
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) records() []sendRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sendRecord(nil), c.sends...)
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

// waitSends waits until at least n datagrams were recorded.
func (c *recordingConn) waitSends(t *testing.T, n int, timeout time.Duration) []sendRecord {
	t.Helper()
	require.Eventually(t, func() bool { return c.count() >= n }, timeout, time.Millisecond,
		"expected %d sends, got %d", n, c.count())
	return c.records()
}

// syncBuffer lets the test read log output the dispatcher is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startDispatcher runs m over conn as the IPv4 default capability until the test ends.
func startDispatcher(t *testing.T, m *Manager, conn Capability) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.RunWithSockets(ctx, &Sockets{V4: conn}) }()

	t.Cleanup(func() {
		cancel()
		m.WaitDestroyed()
		require.NoError(t, <-errCh)
	})
}

func newTestManager(t *testing.T, capacity int, interval time.Duration, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(capacity, interval, opts...)
	require.NoError(t, err)
	return m
}

var testDest = netip.MustParseAddrPort("127.0.0.1:5000")
