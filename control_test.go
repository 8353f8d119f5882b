package was

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func controlPair(t *testing.T) (cc *controlChannel, peer int) {
	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	assert.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(sp[0])
		_ = unix.Close(sp[1])
	})
	return newControlChannel(sp[0]), sp[1]
}

func Test_ControlChannel_SplitPacketDelivery(t *testing.T) {
	cc, peer := controlPair(t)
	b := appendPairPacket(nil, CommandHeader, "Host", "example.com")

	// header and payload arrive in separate writes
	_, err := unix.Write(peer, b[:3])
	assert.NoError(t, err)
	_, ok := cc.nextPacket()
	assert.False(t, ok)
	assert.NoError(t, cc.readMore())
	_, ok = cc.nextPacket()
	assert.False(t, ok)

	_, err = unix.Write(peer, b[3:])
	assert.NoError(t, err)
	assert.NoError(t, cc.readMore())
	p, ok := cc.nextPacket()
	assert.True(t, ok)
	assert.Equal(t, CommandHeader, p.Cmd)
	name, value, ok := p.Pair()
	assert.True(t, ok)
	assert.Equal(t, "Host", name)
	assert.Equal(t, "example.com", value)
}

func Test_ControlChannel_MultiplePacketsOneRead(t *testing.T) {
	cc, peer := controlPair(t)
	b := appendPacket(nil, CommandRequest, nil)
	b = appendUint32Packet(b, CommandMethod, uint32(MethodGet))
	b = appendPacket(b, CommandNoData, nil)
	_, err := unix.Write(peer, b)
	assert.NoError(t, err)

	assert.NoError(t, cc.readMore())
	p, ok := cc.nextPacket()
	assert.True(t, ok)
	assert.Equal(t, CommandRequest, p.Cmd)
	p, ok = cc.nextPacket()
	assert.True(t, ok)
	assert.Equal(t, CommandMethod, p.Cmd)
	p, ok = cc.nextPacket()
	assert.True(t, ok)
	assert.Equal(t, CommandNoData, p.Cmd)
	assert.Equal(t, 0, cc.buffered())
	_, ok = cc.nextPacket()
	assert.False(t, ok)
}

func Test_ControlChannel_ReadMoreEOF(t *testing.T) {
	cc, peer := controlPair(t)
	assert.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	assert.Equal(t, io.EOF, cc.readMore())
}

func Test_ControlChannel_SendAfterErrorShortCircuits(t *testing.T) {
	cc, peer := controlPair(t)
	_ = unix.Close(peer)
	// writing to a closed peer eventually fails; the first error sticks
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = cc.sendEmpty(CommandNop)
	}
	assert.Error(t, err)
	assert.Equal(t, err, cc.sendEmpty(CommandNop))
}

func Test_ControlChannel_MaxPayloadRoundtrip(t *testing.T) {
	cc, peer := controlPair(t)
	payload := make([]byte, PacketMaxPayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	done := make(chan error, 1)
	go func() {
		done <- unixWriteAll(peer, appendPacket(nil, CommandURI, payload))
	}()
	for {
		if p, ok := cc.nextPacket(); ok {
			assert.Equal(t, CommandURI, p.Cmd)
			assert.Equal(t, payload, p.Payload)
			break
		}
		assert.NoError(t, cc.readMore())
	}
	assert.NoError(t, <-done)
}

func unixWriteAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
