package was

import (
	"io"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
)

// sendBodyRequest scripts a POST with a body announcement.
func (st *sessionTester) sendBodyRequest(uri string, length uint64, declare bool) {
	st.send(CommandRequest, nil)
	st.sendUint32(CommandMethod, uint32(MethodPost))
	st.send(CommandURI, []byte(uri))
	if declare {
		st.sendUint64(CommandLength, length)
	}
	st.send(CommandData, nil)
}

func Test_Session_ReadKnownLength(t *testing.T) {
	st := newSessionTester(t)
	st.sendBodyRequest("/upload", 5, true)
	st.writeBody([]byte("hello"))

	_, err := st.s.Accept()
	assert.NoError(t, err)
	assert.True(t, st.s.HasBody())
	remaining, known := st.s.InputRemaining()
	assert.True(t, known)
	assert.Equal(t, uint64(5), remaining)

	buf := make([]byte, 16)
	n, err := st.s.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	remaining, known = st.s.InputRemaining()
	assert.True(t, known)
	assert.Equal(t, uint64(0), remaining)

	n, err = st.s.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func Test_Session_ReadLengthAfterData(t *testing.T) {
	st := newSessionTester(t)
	st.send(CommandRequest, nil)
	st.sendUint32(CommandMethod, uint32(MethodPut))
	st.send(CommandURI, []byte("/stream"))
	st.send(CommandData, nil)
	st.writeBody([]byte("abc"))

	_, err := st.s.Accept()
	assert.NoError(t, err)
	_, known := st.s.InputRemaining()
	assert.False(t, known)

	buf := make([]byte, 3)
	n, err := st.s.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	// the late LENGTH settles the end of the body
	st.sendUint64(CommandLength, 3)
	n, err = st.s.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func Test_Session_InputPollSuccess(t *testing.T) {
	st := newSessionTester(t)
	st.sendBodyRequest("/poll", 0, false)
	_, err := st.s.Accept()
	assert.NoError(t, err)

	assert.Equal(t, PollTimeout, st.s.InputPoll(0))
	st.writeBody([]byte("x"))
	assert.Equal(t, PollSuccess, st.s.InputPoll(1000))
}

func Test_Session_InputPollNoBody(t *testing.T) {
	st := newSessionTester(t)
	st.sendRequest(MethodGet, "/nobody")
	st.send(CommandNoData, nil)
	_, err := st.s.Accept()
	assert.NoError(t, err)
	assert.Equal(t, PollEnd, st.s.InputPoll(-1))
}

func Test_Session_InputCloseDrains(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSessionTester(t)
	st.sendBodyRequest("/big", 1000000, true)
	st.writeBody(make([]byte, 100))

	_, err := st.s.Accept()
	assert.NoError(t, err)

	buf := make([]byte, 50)
	n, err := st.s.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 50, n)

	// the peer answers the STOP by truncating its body at 100 bytes
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.expectPacket(CommandStop)
		st.sendUint64(CommandPremature, 100)
	}()
	assert.NoError(t, st.s.InputClose())
	<-done

	n, err = st.s.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func Test_Session_PrematureBeforeRead(t *testing.T) {
	st := newSessionTester(t)
	st.sendBodyRequest("/cut", 0, false)
	st.writeBody([]byte("abcd"))
	st.sendUint64(CommandPremature, 4)

	_, err := st.s.Accept()
	assert.NoError(t, err)

	// a truncated body reads as end of body
	assert.Equal(t, PollClosed, st.s.InputPoll(0))
	n, err := st.s.Read(make([]byte, 4))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)

	// residual bytes up to the truncation point are discarded by End
	assert.NoError(t, st.s.End())
	st.expectPacket(CommandStatus)
	st.expectPacket(CommandNoData)
}

func Test_Session_ReceivedDirect(t *testing.T) {
	st := newSessionTester(t)
	st.sendBodyRequest("/direct", 8, true)
	st.writeBody([]byte("12345678"))

	_, err := st.s.Accept()
	assert.NoError(t, err)

	buf := make([]byte, 8)
	st.readFull(st.s.InputFD(), buf)
	assert.NoError(t, st.s.Received(8))
	remaining, known := st.s.InputRemaining()
	assert.True(t, known)
	assert.Equal(t, uint64(0), remaining)

	// mixing in Read is refused now
	_, err = st.s.Read(buf)
	assert.True(t, IsProtocolError(err))
}

func Test_Session_ReceivedOverrunFailsRequest(t *testing.T) {
	st := newSessionTester(t)
	st.sendBodyRequest("/overrun", 4, true)
	_, err := st.s.Accept()
	assert.NoError(t, err)
	err = st.s.Received(5)
	assert.True(t, IsProtocolError(err))
	_, err = st.s.Read(make([]byte, 1))
	assert.Error(t, err)
}
