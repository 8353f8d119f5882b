package was

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// controlChannel frames packets over the control descriptor. Receives
// are buffered; a packet popped from the buffer is only valid until the
// next readMore call. Sends are synchronous and retried on short writes.
type controlChannel struct {
	fd   int
	buf  []byte
	head int
	tail int
	werr error
}

func newControlChannel(fd int) *controlChannel {
	return &controlChannel{
		fd:  fd,
		buf: make([]byte, ControlBufferSize),
	}
}

// buffered returns the number of received bytes not yet consumed.
func (cc *controlChannel) buffered() int {
	return cc.tail - cc.head
}

// nextPacket pops one complete packet from the receive buffer, or
// returns ok false if the buffer does not hold a complete packet yet.
func (cc *controlChannel) nextPacket() (p Packet, ok bool) {
	avail := cc.buf[cc.head:cc.tail]
	if len(avail) < PacketHeaderSize {
		return
	}
	length := int(binary.LittleEndian.Uint16(avail[2:]))
	if len(avail) < PacketHeaderSize+length {
		return
	}
	p.Cmd = Command(binary.LittleEndian.Uint16(avail))
	p.Payload = avail[PacketHeaderSize : PacketHeaderSize+length]
	cc.head += PacketHeaderSize + length
	ok = true
	return
}

// readMore reads from the control descriptor into the receive buffer,
// compacting first and growing the buffer when it is full, so a
// maximum-size packet can be assembled. Returns io.EOF
// when the peer has closed the channel.
func (cc *controlChannel) readMore() error {
	if cc.head > 0 {
		cc.tail = copy(cc.buf, cc.buf[cc.head:cc.tail])
		cc.head = 0
	}
	if cc.tail == len(cc.buf) {
		grown := make([]byte, len(cc.buf)+PacketMaxSize)
		cc.tail = copy(grown, cc.buf[:cc.tail])
		cc.buf = grown
	}
	for {
		n, err := unix.Read(cc.fd, cc.buf[cc.tail:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if n == 0 {
			return io.EOF
		}
		cc.tail += n
		return nil
	}
}

// send writes raw packet bytes to the control descriptor, retrying
// partial writes. After the first write error the channel is dead and
// all further sends fail with the same error.
func (cc *controlChannel) send(b []byte) error {
	if cc.werr != nil {
		return cc.werr
	}
	for len(b) > 0 {
		n, err := unix.Write(cc.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			cc.werr = errors.WithStack(err)
			return cc.werr
		}
		b = b[n:]
	}
	return nil
}

func (cc *controlChannel) sendPacket(cmd Command, payload []byte) error {
	return cc.send(appendPacket(nil, cmd, payload))
}

func (cc *controlChannel) sendEmpty(cmd Command) error {
	return cc.send(appendPacket(nil, cmd, nil))
}

func (cc *controlChannel) sendUint64(cmd Command, n uint64) error {
	return cc.send(appendUint64Packet(nil, cmd, n))
}

func (cc *controlChannel) sendUint32(cmd Command, n uint32) error {
	return cc.send(appendUint32Packet(nil, cmd, n))
}

func (cc *controlChannel) sendPair(cmd Command, name, value string) error {
	return cc.send(appendPairPacket(nil, cmd, name, value))
}

func (cc *controlChannel) sendMetric(name string, value float32) error {
	return cc.send(appendMetricPacket(nil, name, value))
}
