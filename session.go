// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package was

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Session is the worker end of one control channel and its pair of
// body pipes. It serves requests one at a time: Accept returns the
// next request, the getters and I/O calls operate on it, and End or
// the next Accept completes it.
//
// A Session is not safe for concurrent use.
type Session struct {
	ctrl   *controlChannel
	inFD   int
	outFD  int
	req    *request
	wantsM bool // peer asked for metrics on the current request
	stop   bool // peer asked us to stop accepting requests
	err    error
	log    zerolog.Logger
}

// NewSession creates a Session on the given descriptors. The body
// pipes are switched to non-blocking mode; the control descriptor
// stays blocking and is always polled before it is read.
func NewSession(controlFD, inputFD, outputFD int) (s *Session, err error) {
	if err = unix.SetNonblock(inputFD, true); err != nil {
		return nil, errors.WithStack(err)
	}
	if err = unix.SetNonblock(outputFD, true); err != nil {
		return nil, errors.WithStack(err)
	}
	s = &Session{
		ctrl:  newControlChannel(controlFD),
		inFD:  inputFD,
		outFD: outputFD,
		log:   zerolog.Nop(),
	}
	return
}

// NewDefaultSession creates a Session on the descriptor slots a WAS
// peer passes to a spawned worker process.
func NewDefaultSession() (*Session, error) {
	return NewSession(DefaultControlFD, DefaultInputFD, DefaultOutputFD)
}

// SetLogger sets the logger used for packet tracing.
func (s *Session) SetLogger(log zerolog.Logger) {
	s.log = log
}

// Close releases the descriptors. The Session must not be used afterwards.
func (s *Session) Close() error {
	err := unix.Close(s.ctrl.fd)
	if e := unix.Close(s.inFD); err == nil {
		err = e
	}
	if e := unix.Close(s.outFD); err == nil {
		err = e
	}
	s.err = sessionClosedError{}
	return errors.WithStack(err)
}

// ControlFD returns the control descriptor, to be used for polling
// after AcceptNonBlock returned ErrWouldBlock.
func (s *Session) ControlFD() int {
	return s.ctrl.fd
}

// InputFD returns the request body descriptor for direct reads.
// A direct read must be reported with Received.
func (s *Session) InputFD() int {
	return s.inFD
}

// OutputFD returns the response body descriptor for direct writes.
// A direct write must be reported with Sent.
func (s *Session) OutputFD() int {
	return s.outFD
}

// fail puts the Session into its terminal error state.
func (s *Session) fail(err error) error {
	if s.err == nil {
		s.err = err
		s.log.Error().Err(err).Msg("session failed")
	}
	return s.err
}

// failRequest poisons the current request but leaves the Session usable.
func (s *Session) failRequest(reason string) error {
	err := ProtocolError{Reason: reason}
	if r := s.req; r != nil {
		r.inState = inputStateError
		r.outState = outputStateError
		r.finished = true
	}
	s.log.Warn().Str("reason", reason).Msg("request failed")
	return err
}

// packetHandlers dispatches received control packets.
var packetHandlers = map[Command]func(*Session, Packet) error{
	CommandNop:         (*Session).recvNop,
	CommandRequest:     (*Session).recvRequest,
	CommandMethod:      (*Session).recvMethod,
	CommandURI:         (*Session).recvURI,
	CommandScriptName:  (*Session).recvScriptName,
	CommandPathInfo:    (*Session).recvPathInfo,
	CommandQueryString: (*Session).recvQueryString,
	CommandHeader:      (*Session).recvHeader,
	CommandParameter:   (*Session).recvParameter,
	CommandNoData:      (*Session).recvNoData,
	CommandData:        (*Session).recvData,
	CommandLength:      (*Session).recvLength,
	CommandStop:        (*Session).recvStop,
	CommandPremature:   (*Session).recvPremature,
	CommandRemoteHost:  (*Session).recvRemoteHost,
	CommandMetric:      (*Session).recvMetric,
}

// dispatch routes one packet. ProtocolError return values have already
// poisoned the current request; any other error is terminal.
func (s *Session) dispatch(p Packet) error {
	s.log.Trace().Stringer("packet", p).Msg("recv")
	if handler, ok := packetHandlers[p.Cmd]; ok {
		return handler(s, p)
	}
	return s.failRequest("unknown command " + p.Cmd.String())
}

// nascent returns the current request if its metadata is still arriving.
func (s *Session) nascent() *request {
	if r := s.req; r != nil && !r.complete {
		return r
	}
	return nil
}

func (s *Session) recvNop(Packet) error { return nil }

func (s *Session) recvRequest(Packet) error {
	if r := s.req; r != nil && !r.finished {
		// The peer abandoned the request in progress.
		r.inState = inputStateError
		r.outState = outputStateError
		r.finished = true
	}
	s.req = newRequest()
	s.wantsM = false
	return nil
}

func (s *Session) recvMethod(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("METHOD outside request")
	}
	n, ok := p.Uint32()
	if !ok || !Method(n).Valid() {
		return s.failRequest("malformed METHOD")
	}
	if r.haveMethod && Method(n) != r.method {
		return s.failRequest("conflicting METHOD")
	}
	r.method = Method(n)
	r.haveMethod = true
	return nil
}

func (s *Session) recvURI(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("URI outside request")
	}
	// a zero-length payload clears an earlier value
	r.uri = string(p.Payload)
	r.haveURI = len(p.Payload) > 0
	return nil
}

func (s *Session) recvScriptName(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("SCRIPT_NAME outside request")
	}
	r.scriptName = string(p.Payload)
	return nil
}

func (s *Session) recvPathInfo(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("PATH_INFO outside request")
	}
	r.pathInfo = string(p.Payload)
	return nil
}

func (s *Session) recvQueryString(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("QUERY_STRING outside request")
	}
	r.queryString = string(p.Payload)
	return nil
}

func (s *Session) recvRemoteHost(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("REMOTE_HOST outside request")
	}
	r.remoteHost = string(p.Payload)
	return nil
}

func (s *Session) recvHeader(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("HEADER outside request")
	}
	name, value, ok := p.Pair()
	if !ok {
		return s.failRequest("malformed HEADER")
	}
	r.headers.add(name, value)
	return nil
}

func (s *Session) recvParameter(p Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("PARAMETER outside request")
	}
	name, value, ok := p.Pair()
	if !ok {
		return s.failRequest("malformed PARAMETER")
	}
	r.parameters.set(name, value)
	return nil
}

func (s *Session) recvNoData(Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("NO_DATA outside request")
	}
	if !r.haveURI || !r.haveMethod {
		return s.failRequest("incomplete request")
	}
	if r.havePending {
		return s.failRequest("LENGTH before NO_DATA")
	}
	r.inState = inputStateNoBody
	r.complete = true
	return nil
}

func (s *Session) recvData(Packet) error {
	r := s.nascent()
	if r == nil {
		return s.failRequest("DATA outside request")
	}
	if !r.haveURI || !r.haveMethod {
		return s.failRequest("incomplete request")
	}
	r.hadBody = true
	if r.havePending {
		r.inDeclared = r.pendingLength
		r.haveDeclared = true
		r.inRemaining = r.pendingLength
		if r.inRemaining == 0 {
			r.inState = inputStateEnd
		} else {
			r.inState = inputStateBodyKnown
		}
	} else {
		r.inState = inputStateBodyUnknown
	}
	r.complete = true
	return nil
}

func (s *Session) recvLength(p Packet) error {
	r := s.req
	if r == nil || r.finished {
		return s.failRequest("LENGTH outside request")
	}
	n, ok := p.Uint64()
	if !ok {
		return s.failRequest("malformed LENGTH")
	}
	switch r.inState {
	case inputStateInit:
		if r.havePending {
			return s.failRequest("duplicate LENGTH")
		}
		r.pendingLength = n
		r.havePending = true
	case inputStateBodyUnknown, inputStateClosed:
		if n < r.inReceived {
			return s.failRequest("LENGTH below received count")
		}
		r.inDeclared = n
		r.haveDeclared = true
		r.inRemaining = n - r.inReceived
		if r.inState == inputStateBodyUnknown {
			if r.inRemaining == 0 {
				r.inState = inputStateEnd
			} else {
				r.inState = inputStateBodyKnown
			}
		}
	case inputStateBodyKnown:
		return s.failRequest("duplicate LENGTH")
	default:
		return s.failRequest("unexpected LENGTH")
	}
	return nil
}

func (s *Session) recvPremature(p Packet) error {
	r := s.req
	if r == nil || r.finished {
		return s.failRequest("PREMATURE outside request")
	}
	n, ok := p.Uint64()
	if !ok {
		return s.failRequest("malformed PREMATURE")
	}
	if n < r.inReceived {
		return s.failRequest("PREMATURE below received count")
	}
	if !r.inputActive() {
		return s.failRequest("unexpected PREMATURE")
	}
	// The residual bytes up to the truncation point are still in the
	// pipe and must be drained before the request can be reused.
	r.inDeclared = n
	r.haveDeclared = true
	r.inRemaining = n - r.inReceived
	r.inState = inputStateClosed
	return nil
}

func (s *Session) recvStop(Packet) error {
	r := s.req
	if r == nil || r.finished {
		s.stop = true
		return nil
	}
	if !r.complete {
		// Request withdrawn before it was fully submitted.
		s.req = nil
		return nil
	}
	if err := s.ctrl.sendUint64(CommandPremature, r.outSent); err != nil {
		return s.fail(err)
	}
	r.inState = inputStateError
	r.outState = outputStateError
	r.finished = true
	return nil
}

func (s *Session) recvMetric(p Packet) error {
	if len(p.Payload) != 0 {
		return s.failRequest("malformed METRIC")
	}
	s.wantsM = true
	return nil
}

// serviceControl dispatches all packets already buffered, then polls
// with zero timeout and reads, repeating until the control channel has
// nothing more to read, so packets such as STOP are seen even while the
// application is busy with body I/O.
func (s *Session) serviceControl() error {
	for {
		for {
			p, ok := s.ctrl.nextPacket()
			if !ok {
				break
			}
			if err := s.dispatch(p); err != nil {
				return err
			}
		}
		ev, err := pollFDs(s.ctrl.fd, -1, 0, pollDeadline(0))
		if err != nil {
			return s.fail(err)
		}
		if ev != pollEventControl {
			return nil
		}
		if err = s.ctrl.readMore(); err != nil {
			if err == io.EOF {
				s.stop = true
				return nil
			}
			return s.fail(err)
		}
	}
}

// Accept completes any previous request and blocks until the next
// request has fully arrived. It returns the request URI, or io.EOF
// when the peer has shut down the connection and no more requests
// will come.
func (s *Session) Accept() (uri string, err error) {
	return s.accept(true)
}

// AcceptNonBlock is like Accept, but returns ErrWouldBlock instead of
// blocking when the connection is idle. Callers poll ControlFD for
// readability and retry. Once a request has started to arrive the
// call blocks until it is complete.
func (s *Session) AcceptNonBlock() (uri string, err error) {
	return s.accept(false)
}

func (s *Session) accept(block bool) (uri string, err error) {
	if s.err != nil {
		return "", s.err
	}
	if r := s.req; r != nil && r.complete && !r.finished {
		if err = s.End(); err != nil && !IsProtocolError(err) {
			return
		}
	}
	if r := s.req; r != nil && r.finished {
		s.req = nil
		s.wantsM = false
	}
	for {
		for {
			p, ok := s.ctrl.nextPacket()
			if !ok {
				break
			}
			if err = s.dispatch(p); err != nil {
				if IsProtocolError(err) {
					s.req = nil
					continue
				}
				return "", err
			}
			if r := s.req; r != nil && r.complete {
				s.log.Debug().Stringer("method", r.method).Str("uri", r.uri).Msg("accepted")
				return r.uri, nil
			}
		}
		if s.stop && s.req == nil {
			return "", io.EOF
		}
		if !block && s.req == nil && s.ctrl.buffered() == 0 {
			ev, e := pollFDs(s.ctrl.fd, -1, 0, pollDeadline(0))
			if e != nil {
				return "", s.fail(e)
			}
			if ev != pollEventControl {
				return "", ErrWouldBlock
			}
		} else if _, e := pollFDs(s.ctrl.fd, -1, 0, pollDeadline(-1)); e != nil {
			return "", s.fail(e)
		}
		if err = s.ctrl.readMore(); err != nil {
			if err == io.EOF {
				if s.req != nil {
					s.req = nil
					s.stop = true
					return "", ProtocolError{Reason: "connection closed mid-request"}
				}
				return "", io.EOF
			}
			return "", s.fail(err)
		}
	}
}

// URI returns the request URI.
func (s *Session) URI() string {
	if r := s.current(); r != nil {
		return r.uri
	}
	return ""
}

// Method returns the request method.
func (s *Session) Method() Method {
	if r := s.current(); r != nil {
		return r.method
	}
	return MethodNull
}

// ScriptName returns the SCRIPT_NAME attribute, or "" if none was sent.
func (s *Session) ScriptName() string {
	if r := s.current(); r != nil {
		return r.scriptName
	}
	return ""
}

// PathInfo returns the PATH_INFO attribute, or "" if none was sent.
func (s *Session) PathInfo() string {
	if r := s.current(); r != nil {
		return r.pathInfo
	}
	return ""
}

// QueryString returns the query string, or "" if none was sent.
func (s *Session) QueryString() string {
	if r := s.current(); r != nil {
		return r.queryString
	}
	return ""
}

// RemoteHost returns the REMOTE_HOST attribute, or "" if none was sent.
func (s *Session) RemoteHost() string {
	if r := s.current(); r != nil {
		return r.remoteHost
	}
	return ""
}

// Header returns the first request header with the given name,
// matched case-insensitively.
func (s *Session) Header(name string) string {
	if r := s.current(); r != nil {
		if value, found := r.headers.getFold(name); found {
			return value
		}
	}
	return ""
}

// MultiHeader returns an iterator over all request headers with the
// given name, matched case-insensitively.
func (s *Session) MultiHeader(name string) *Iterator {
	if r := s.current(); r != nil {
		return r.headers.iterator(name)
	}
	return &Iterator{}
}

// HeaderIterator returns an iterator over all request headers.
func (s *Session) HeaderIterator() *Iterator {
	if r := s.current(); r != nil {
		return r.headers.iterator("")
	}
	return &Iterator{}
}

// Parameter returns the parameter with the given name, or "".
func (s *Session) Parameter(name string) string {
	if r := s.current(); r != nil {
		if value, found := r.parameters.get(name); found {
			return value
		}
	}
	return ""
}

// ParameterIterator returns an iterator over all parameters.
func (s *Session) ParameterIterator() *Iterator {
	if r := s.current(); r != nil {
		return r.parameters.iterator("")
	}
	return &Iterator{}
}

// WantMetrics returns true if the peer asked for metrics for the
// current request.
func (s *Session) WantMetrics() bool {
	return s.current() != nil && s.wantsM
}

// Metric sends one named metric value to the peer.
func (s *Session) Metric(name string, value float32) error {
	if s.err != nil {
		return s.err
	}
	if len(name)+4 > PacketMaxPayloadSize {
		return ProtocolError{Reason: "metric name too long"}
	}
	if err := s.ctrl.sendMetric(name, value); err != nil {
		return s.fail(err)
	}
	return nil
}

// current returns the accepted request, or nil.
func (s *Session) current() *request {
	if r := s.req; r != nil && r.complete && !r.finished {
		return r
	}
	return nil
}

// mustCurrent returns the accepted request or the error explaining
// why there is none.
func (s *Session) mustCurrent() (*request, error) {
	if s.err != nil {
		return nil, s.err
	}
	r := s.req
	if r == nil || !r.complete {
		return nil, noRequestError{}
	}
	if r.finished {
		return nil, requestFinishedError{}
	}
	return r, nil
}
