package was

import (
	"io"
	"net/http"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func Test_Session_NewRequest(t *testing.T) {
	st := newSessionTester(t)
	st.send(CommandRequest, nil)
	st.sendUint32(CommandMethod, uint32(MethodPost))
	st.send(CommandURI, []byte("/app/item?id=7"))
	st.send(CommandScriptName, []byte("/app"))
	st.send(CommandPathInfo, []byte("/item"))
	st.send(CommandQueryString, []byte("id=7"))
	st.sendPair(CommandHeader, "Host", "example.com")
	st.sendPair(CommandHeader, "Content-Type", "text/plain")
	st.send(CommandRemoteHost, []byte("192.0.2.7"))
	st.sendUint64(CommandLength, 4)
	st.send(CommandData, nil)
	st.writeBody([]byte("body"))

	_, err := st.s.Accept()
	assert.NoError(t, err)
	req, err := st.s.NewRequest()
	assert.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/app/item", req.URL.Path)
	assert.Equal(t, "id=7", req.URL.RawQuery)
	assert.Equal(t, "example.com", req.Host)
	assert.Equal(t, "text/plain", req.Header.Get("Content-Type"))
	assert.Equal(t, "192.0.2.7", req.RemoteAddr)
	assert.Equal(t, int64(4), req.ContentLength)
	body, err := io.ReadAll(req.Body)
	assert.NoError(t, err)
	assert.Equal(t, "body", string(body))
}

// collectResponse reads control packets up to and including DATA,
// NO_DATA or PREMATURE, keyed by command. Header packets are flattened by name.
func (st *sessionTester) collectResponse() (packets map[Command]Packet, headers map[string]string) {
	packets = make(map[Command]Packet)
	headers = make(map[string]string)
	for {
		p := st.recvPacket()
		if p.Cmd == CommandHeader {
			name, value, ok := p.Pair()
			assert.True(st.t, ok)
			headers[name] = value
			continue
		}
		packets[p.Cmd] = p
		if p.Cmd == CommandData || p.Cmd == CommandNoData || p.Cmd == CommandPremature {
			return
		}
	}
}

func Test_Serve_HandlesRequests(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSessionTester(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("world"))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	})

	served := make(chan error, 1)
	go func() {
		served <- Serve(st.s, mux)
	}()

	st.sendRequest(MethodGet, "/hello")
	st.send(CommandNoData, nil)
	packets, headers := st.collectResponse()
	code, _ := packets[CommandStatus].Uint32()
	assert.Equal(t, uint32(200), code)
	assert.Equal(t, "text/plain", headers["Content-Type"])
	length, ok := packets[CommandLength].Uint64()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), length)
	body := make([]byte, 5)
	st.readBody(body)
	assert.Equal(t, "world", string(body))

	st.send(CommandRequest, nil)
	st.sendUint32(CommandMethod, uint32(MethodPost))
	st.send(CommandURI, []byte("/echo"))
	st.sendUint64(CommandLength, 3)
	st.send(CommandData, nil)
	st.writeBody([]byte("abc"))
	packets, _ = st.collectResponse()
	code, _ = packets[CommandStatus].Uint32()
	assert.Equal(t, uint32(200), code)
	st.readBody(body[:3])
	assert.Equal(t, "abc", string(body[:3]))
	p := st.expectPacket(CommandLength)
	length, _ = p.Uint64()
	assert.Equal(t, uint64(3), length)

	assert.NoError(t, unix.Shutdown(st.control, unix.SHUT_WR))
	assert.NoError(t, <-served)
}

func Test_Serve_HandlerPanicAborts(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSessionTester(t)

	served := make(chan error, 1)
	go func() {
		served <- Serve(st.s, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
	}()

	st.sendRequest(MethodGet, "/panic")
	st.send(CommandNoData, nil)
	p := st.expectPacket(CommandPremature)
	sent, ok := p.Uint64()
	assert.True(t, ok)
	assert.Equal(t, uint64(0), sent)

	assert.NoError(t, unix.Shutdown(st.control, unix.SHUT_WR))
	assert.NoError(t, <-served)
}
