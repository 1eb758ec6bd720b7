// Package wire encodes the frames producers send to the udpq ingest socket.
//
// Layout, big endian:
//
//	magic "UDPQ" (4) | version (1) | type (1) | family (1) | reserved (1) | flow id (8)
//	data frames then carry: port (2) | address (4 or 16) | payload
//
// Delete frames end after the flow id and use family 0.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrShortFrame = errors.New("frame too short")
	ErrBadMagic   = errors.New("bad frame magic")
	ErrBadVersion = errors.New("unsupported frame version")
	ErrBadType    = errors.New("unknown frame type")
	ErrBadFamily  = errors.New("bad address family")
)

const ProtocolVersion = 1

// HeaderSize is the size of a delete frame and the common prefix of all frames.
const HeaderSize = 16

var magic = []byte("UDPQ")

// FrameType is the kind of ingest frame.
type FrameType uint8

const (
	FrameData FrameType = iota + 1
	FrameDelete
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "data"
	case FrameDelete:
		return "delete"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Frame is one decoded ingest message.
type Frame struct {
	Type    FrameType
	FlowID  int64
	Dest    netip.AddrPort // data frames only
	Payload []byte         // data frames only
}

// DataFrame builds a frame queuing payload for flowID.
func DataFrame(flowID int64, dest netip.AddrPort, payload []byte) Frame {
	return Frame{Type: FrameData, FlowID: flowID, Dest: dest, Payload: payload}
}

// DeleteFrame builds a frame dropping flowID.
func DeleteFrame(flowID int64) Frame {
	return Frame{Type: FrameDelete, FlowID: flowID}
}

// Encode serialises f. IPv4-mapped IPv6 destinations are sent as IPv4.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case FrameDelete:
		buf := make([]byte, HeaderSize)
		putHeader(buf, f.Type, 0, f.FlowID)
		return buf, nil

	case FrameData:
		if !f.Dest.IsValid() {
			return nil, fmt.Errorf("%w: invalid destination", ErrBadFamily)
		}
		addr := f.Dest.Addr().Unmap()
		family := uint8(6)
		if addr.Is4() {
			family = 4
		}
		raw := addr.AsSlice()

		buf := make([]byte, HeaderSize+2+len(raw)+len(f.Payload))
		putHeader(buf, f.Type, family, f.FlowID)
		binary.BigEndian.PutUint16(buf[HeaderSize:], f.Dest.Port())
		n := copy(buf[HeaderSize+2:], raw)
		copy(buf[HeaderSize+2+n:], f.Payload)
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrBadType, f.Type)
	}
}

func putHeader(buf []byte, t FrameType, family uint8, flowID int64) {
	copy(buf[0:4], magic)
	buf[4] = ProtocolVersion
	buf[5] = uint8(t)
	buf[6] = family
	buf[7] = 0
	binary.BigEndian.PutUint64(buf[8:16], uint64(flowID))
}

// Decode parses one frame. The returned Payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if !bytes.Equal(b[0:4], magic) {
		return Frame{}, ErrBadMagic
	}
	if b[4] != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}

	f := Frame{
		Type:   FrameType(b[5]),
		FlowID: int64(binary.BigEndian.Uint64(b[8:16])),
	}
	switch f.Type {
	case FrameDelete:
		return f, nil
	case FrameData:
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrBadType, b[5])
	}

	var addrLen int
	switch b[6] {
	case 4:
		addrLen = 4
	case 6:
		addrLen = 16
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrBadFamily, b[6])
	}
	if len(b) < HeaderSize+2+addrLen {
		return Frame{}, fmt.Errorf("%w: %d bytes for IPv%d data frame", ErrShortFrame, len(b), b[6])
	}

	port := binary.BigEndian.Uint16(b[HeaderSize:])
	addr, _ := netip.AddrFromSlice(b[HeaderSize+2 : HeaderSize+2+addrLen])
	f.Dest = netip.AddrPortFrom(addr, port)
	f.Payload = b[HeaderSize+2+addrLen:]
	return f, nil
}
