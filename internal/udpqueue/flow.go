package udpqueue

import (
	"container/list"
	"net/netip"
	"time"

	"github.com/eapache/queue"
)

// flow is the packet buffer of one flow plus what the dispatcher needs to pace it.
// All fields are guarded by Manager.mu.
type flow struct {
	id       int64
	packets  *queue.Queue // of []byte, oldest first
	dest     netip.AddrPort
	due      time.Time
	override Capability // nil: default sockets by address family

	// elem is the flow's slot in the dispatch ordering, nil while it is being
	// serviced or after it left the registry.
	elem *list.Element
}

func newFlow(id int64, dest netip.AddrPort, override Capability, now time.Time) *flow {
	return &flow{
		id:       id,
		packets:  queue.New(),
		dest:     dest,
		due:      now,
		override: override,
	}
}

func (f *flow) push(packet []byte) {
	f.packets.Add(packet)
}

func (f *flow) pop() ([]byte, bool) {
	if f.packets.Length() == 0 {
		return nil, false
	}
	return f.packets.Remove().([]byte), true
}

func (f *flow) len() int {
	return f.packets.Length()
}
