package udpqueue

import (
	"container/list"
	"net/netip"
	"time"
)

// registry maps flow ids to their queues and keeps the round-robin dispatch
// ordering. It does no locking of its own; Manager.mu guards every call.
//
// Invariants:
//   - every id in order is present in flows, and appears there at most once
//   - a flow missing from order is either being serviced by the dispatcher or
//     no longer in flows
//   - pending equals the sum of buffered packets over flows
type registry struct {
	flows    map[int64]*flow
	order    *list.List // of int64
	pending  int
	capacity int
}

func newRegistry(capacity int) *registry {
	return &registry{
		flows:    make(map[int64]*flow, 100),
		order:    list.New(),
		capacity: capacity,
	}
}

// enqueue appends packet to the flow, creating the flow if needed. A new flow is
// due immediately and goes to the front of the ordering so the next dispatch
// iteration serves it. Destination and override of an existing flow are kept.
func (r *registry) enqueue(id int64, dest netip.AddrPort, packet []byte, override Capability, now time.Time) (created bool) {
	f, ok := r.flows[id]
	if !ok {
		f = newFlow(id, dest, override, now)
		r.flows[id] = f
		f.elem = r.order.PushFront(id)
		created = true
	}
	f.push(packet)
	r.pending++
	return created
}

// remaining is the advisory room left in a flow; unknown flows report the full capacity.
func (r *registry) remaining(id int64) int {
	f, ok := r.flows[id]
	if !ok {
		return r.capacity
	}
	return max(r.capacity-f.len(), 0)
}

// remove drops the flow and its buffered packets. A flow being serviced is
// detached here; the dispatcher notices on its next lookup.
func (r *registry) remove(id int64) bool {
	f, ok := r.flows[id]
	if !ok {
		return false
	}
	if f.elem != nil {
		r.order.Remove(f.elem)
		f.elem = nil
	}
	r.pending -= f.len()
	delete(r.flows, id)
	return true
}

// next pops the flow at the front of the ordering, or nil when the ordering is empty.
func (r *registry) next() *flow {
	for e := r.order.Front(); e != nil; e = r.order.Front() {
		id := r.order.Remove(e).(int64)
		if f, ok := r.flows[id]; ok {
			f.elem = nil
			return f
		}
	}
	return nil
}

// pop takes the oldest packet of f.
func (r *registry) pop(f *flow) ([]byte, bool) {
	packet, ok := f.pop()
	if ok && r.owns(f) {
		r.pending--
	}
	return packet, ok
}

// owns reports whether f is still the registered queue for its id.
func (r *registry) owns(f *flow) bool {
	cur, ok := r.flows[f.id]
	return ok && cur == f
}

// enroll puts f at the back of the ordering. It is a no-op for a flow that was
// deleted (or deleted and recreated) while it was out of the ordering.
func (r *registry) enroll(f *flow) bool {
	if f.elem != nil || !r.owns(f) {
		return false
	}
	f.elem = r.order.PushBack(f.id)
	return true
}

// idle reports whether no flow has a buffered packet.
func (r *registry) idle() bool {
	return r.pending == 0
}

func (r *registry) len() int {
	return len(r.flows)
}
