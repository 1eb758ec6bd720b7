package wire

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// FlowIDFromName derives a stable flow id from a human-readable name, so
// independent producers agree on ids without coordinating.
func FlowIDFromName(name string) int64 {
	sum := blake3.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
