// packet.go

// A packet header consists of four bytes. The first two bytes are the
// little-endian command code, the next two bytes are the little-endian
// payload length. The payload bytes follow immediately. There are no
// checksums and no escaping; the protocol is local-only.

package was

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Packet is a single control channel frame: a command code and its payload.
// A zero payload length is legal. The payload slice is only valid until the
// next receive on the control channel; dispatch copies what it keeps.
type Packet struct {
	Cmd     Command
	Payload []byte
}

func (p Packet) String() string {
	switch {
	case len(p.Payload) == 0:
		return fmt.Sprintf("[Packet %v]", p.Cmd)
	case len(p.Payload) <= 32:
		return fmt.Sprintf("[Packet %v %d %v]", p.Cmd, len(p.Payload), hex.EncodeToString(p.Payload))
	default:
		return fmt.Sprintf("[Packet %v %d %v...]", p.Cmd, len(p.Payload), hex.EncodeToString(p.Payload[:32]))
	}
}

// Uint32 decodes a 32-bit payload such as METHOD or STATUS.
func (p Packet) Uint32() (n uint32, ok bool) {
	if ok = len(p.Payload) == 4; ok {
		n = binary.LittleEndian.Uint32(p.Payload)
	}
	return
}

// Uint64 decodes a 64-bit payload such as LENGTH or PREMATURE.
func (p Packet) Uint64() (n uint64, ok bool) {
	if ok = len(p.Payload) == 8; ok {
		n = binary.LittleEndian.Uint64(p.Payload)
	}
	return
}

// Pair decodes a "name=value" payload such as HEADER or PARAMETER.
func (p Packet) Pair() (name, value string, ok bool) {
	for i, b := range p.Payload {
		if b == '=' {
			return string(p.Payload[:i]), string(p.Payload[i+1:]), true
		}
	}
	return
}

// appendPacket appends the wire encoding of a packet to b.
// The payload length must not exceed PacketMaxPayloadSize.
func appendPacket(b []byte, cmd Command, payload []byte) []byte {
	if len(payload) > PacketMaxPayloadSize {
		panic(fmt.Sprintf("appendPacket(): payload size %d", len(payload)))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(cmd))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	return append(b, payload...)
}

func appendUint32Packet(b []byte, cmd Command, n uint32) []byte {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], n)
	return appendPacket(b, cmd, payload[:])
}

func appendUint64Packet(b []byte, cmd Command, n uint64) []byte {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], n)
	return appendPacket(b, cmd, payload[:])
}

func appendPairPacket(b []byte, cmd Command, name, value string) []byte {
	payload := make([]byte, 0, len(name)+1+len(value))
	payload = append(payload, name...)
	payload = append(payload, '=')
	payload = append(payload, value...)
	return appendPacket(b, cmd, payload)
}

func appendMetricPacket(b []byte, name string, value float32) []byte {
	payload := make([]byte, 4, 4+len(name))
	binary.LittleEndian.PutUint32(payload, math.Float32bits(value))
	payload = append(payload, name...)
	return appendPacket(b, CommandMetric, payload)
}
