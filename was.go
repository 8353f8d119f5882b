// Package tunables and protocol limits.
package was

const (
	// PacketHeaderSize is the number of bytes in a packet header.
	PacketHeaderSize = 4
	// PacketMaxPayloadSize is the maximum number of bytes in a packet payload.
	PacketMaxPayloadSize = 0xffff
	// PacketMaxSize is the largest buffer size needed for a full packet.
	PacketMaxSize = PacketHeaderSize + PacketMaxPayloadSize
)

const (
	// DefaultControlFD is the descriptor slot the peer inherits the control channel on.
	DefaultControlFD = 3
	// DefaultInputFD is the descriptor slot for the request body pipe.
	DefaultInputFD = 0
	// DefaultOutputFD is the descriptor slot for the response body pipe.
	DefaultOutputFD = 1
)

var (
	// ControlBufferSize is the size of the control channel receive buffer.
	// It must hold at least one packet header plus a short payload.
	ControlBufferSize = 4096
	// SpliceBufferSize is the chunk size used when copying body bytes
	// in userspace, when splice(2) is not applicable.
	SpliceBufferSize = 16 * 1024
	// DiscardBufferSize is the chunk size used when draining and
	// discarding residual request body bytes.
	DiscardBufferSize = 8 * 1024
)
