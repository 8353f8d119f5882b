// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package was

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// forbiddenHeaders are response headers managed by the protocol itself
// or meaningless on a local channel. SetHeader rejects them.
var forbiddenHeaders = map[string]bool{
	"content-length":      true,
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Status sets the response status code. It must be called before any
// header or body; if it is not, SetHeader, SetLength and the body assume
// "200 OK", and End without a body sends "204 No Content".
func (s *Session) Status(code uint32) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.outState != outputStateNone {
		return ProtocolError{Reason: "status already sent"}
	}
	if code < 100 || code > 599 {
		return ProtocolError{Reason: "invalid status code"}
	}
	r.status = code
	r.outHeaders = appendUint32Packet(r.outHeaders, CommandStatus, code)
	r.outState = outputStateHeaders
	return nil
}

// SetHeader adds one response header. Content-Length must be declared
// with SetLength instead; hop-by-hop headers are rejected.
func (s *Session) SetHeader(name, value string) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.outState == outputStateNone {
		if err = s.Status(200); err != nil {
			return err
		}
	}
	if r.outState != outputStateHeaders {
		return ProtocolError{Reason: "header after body"}
	}
	if forbiddenHeaders[strings.ToLower(name)] {
		return ProtocolError{Reason: "forbidden header " + name}
	}
	if len(name)+1+len(value) > PacketMaxPayloadSize {
		return ProtocolError{Reason: "header too long"}
	}
	r.outHeaders = appendPairPacket(r.outHeaders, CommandHeader, name, value)
	return nil
}

// CopyAllHeaders copies every request header into the response,
// skipping those SetHeader would reject.
func (s *Session) CopyAllHeaders() error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	for _, p := range r.headers.pairs {
		if forbiddenHeaders[strings.ToLower(p.Name)] {
			continue
		}
		if err = s.SetHeader(p.Name, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// SetLength declares the response body length, enabling the peer to
// preallocate and pipeline. It may also be called after the body has
// begun, as long as the declared length covers the bytes already sent.
func (s *Session) SetLength(length uint64) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.outState == outputStateNone {
		if err = s.Status(200); err != nil {
			return err
		}
	}
	if r.haveOutLength {
		return ProtocolError{Reason: "length already set"}
	}
	switch r.outState {
	case outputStateHeaders:
		r.outHeaders = appendUint64Packet(r.outHeaders, CommandLength, length)
	case outputStateBodyUnknown:
		if length < r.outSent {
			return ProtocolError{Reason: "length below sent count"}
		}
		if err = s.ctrl.sendUint64(CommandLength, length); err != nil {
			return s.fail(err)
		}
		r.outRemaining = length - r.outSent
		r.outState = outputStateBodyKnown
		if r.outRemaining == 0 {
			r.outState = outputStateEnd
		}
	default:
		return ProtocolError{Reason: "response already ended"}
	}
	r.outDeclared = length
	r.haveOutLength = true
	return nil
}

// OutputBegin announces the response entity body. Headers staged so
// far are flushed together with the DATA packet. Calling it again
// after the body has begun is a no-op.
func (s *Session) OutputBegin() error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	return s.beginOutput(r)
}

func (s *Session) beginOutput(r *request) (err error) {
	switch r.outState {
	case outputStateBodyUnknown, outputStateBodyKnown:
		return nil
	case outputStateEnd, outputStateError:
		return ProtocolError{Reason: "response already ended"}
	case outputStateNone:
		if err = s.Status(200); err != nil {
			return
		}
	}
	b := appendPacket(r.outHeaders, CommandData, nil)
	r.outHeaders = nil
	if err = s.ctrl.send(b); err != nil {
		return s.fail(err)
	}
	if r.haveOutLength {
		r.outRemaining = r.outDeclared
		r.outState = outputStateBodyKnown
		if r.outRemaining == 0 {
			r.outState = outputStateEnd
		}
	} else {
		r.outState = outputStateBodyUnknown
	}
	return nil
}

// OutputPoll waits for the response body pipe to become writable,
// servicing control packets while it waits.
func (s *Session) OutputPoll(timeout int) PollResult {
	r := s.current()
	if r == nil {
		return PollClosed
	}
	switch r.outState {
	case outputStateEnd:
		return PollEnd
	case outputStateError:
		return PollError
	}
	deadline := pollDeadline(timeout)
	for {
		if err := s.serviceControl(); err != nil {
			if !IsProtocolError(err) {
				return PollError
			}
		}
		if s.err != nil {
			return PollError
		}
		if s.req != r || r.finished {
			return PollClosed
		}
		switch r.outState {
		case outputStateEnd:
			return PollEnd
		case outputStateError:
			return PollError
		}
		ev, err := pollFDs(s.ctrl.fd, s.outFD, unix.POLLOUT, deadline)
		if err != nil {
			s.fail(err)
			return PollError
		}
		switch ev {
		case pollEventTimeout:
			return PollTimeout
		case pollEventData:
			return PollSuccess
		}
	}
}

// Write sends response body bytes, blocking as needed. The body is
// announced implicitly if OutputBegin has not been called. Write must
// not be mixed with Sent on the same request.
func (s *Session) Write(p []byte) (n int, err error) {
	r, err := s.mustCurrent()
	if err != nil {
		return 0, err
	}
	if r.sentUsed {
		return 0, ProtocolError{Reason: "Write after Sent"}
	}
	if err = s.beginOutput(r); err != nil {
		return 0, err
	}
	r.writeUsed = true
	if r.outState == outputStateBodyKnown && uint64(len(p)) > r.outRemaining {
		return 0, s.failRequest("write exceeds declared length")
	}
	if r.outState == outputStateEnd {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ProtocolError{Reason: "response already ended"}
	}
	for n < len(p) {
		var w int
		w, err = unix.Write(s.outFD, p[n:])
		if err == unix.EINTR {
			err = nil
			continue
		}
		if err == unix.EAGAIN {
			err = nil
			switch s.OutputPoll(-1) {
			case PollSuccess:
				continue
			case PollClosed:
				return n, requestFinishedError{}
			default:
				if s.err != nil {
					return n, s.err
				}
				return n, ProtocolError{Reason: "response body failed"}
			}
		}
		if err != nil {
			r.outState = outputStateError
			return n, s.fail(errors.WithStack(err))
		}
		n += w
		s.countSent(r, uint64(w))
	}
	return n, nil
}

// countSent advances the response byte counters after n bytes were
// pushed into the pipe.
func (s *Session) countSent(r *request, n uint64) {
	r.outSent += n
	if r.outState == outputStateBodyKnown {
		r.outRemaining -= n
		if r.outRemaining == 0 {
			r.outState = outputStateEnd
		}
	}
}

// Puts writes a string to the response body.
func (s *Session) Puts(str string) error {
	_, err := s.Write([]byte(str))
	return err
}

// Printf formats into the response body.
func (s *Session) Printf(format string, args ...interface{}) error {
	return s.Puts(fmt.Sprintf(format, args...))
}

// Sent reports nbytes written directly to the descriptor given by
// OutputFD. It must not be mixed with Write on the same request.
func (s *Session) Sent(nbytes uint64) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.writeUsed {
		return ProtocolError{Reason: "Sent after Write"}
	}
	r.sentUsed = true
	switch r.outState {
	case outputStateBodyKnown:
		if nbytes > r.outRemaining {
			return s.failRequest("sent count exceeds declared length")
		}
	case outputStateBodyUnknown:
	default:
		return ProtocolError{Reason: "response body not announced"}
	}
	s.countSent(r, nbytes)
	return nil
}

// Splice copies up to maxLength request body bytes to the response
// body, blocking until at least one byte was copied. It returns zero
// at the end of the request body.
func (s *Session) Splice(maxLength uint64) (copied uint64, err error) {
	r, err := s.mustCurrent()
	if err != nil {
		return 0, err
	}
	if r.receivedUsed || r.sentUsed {
		return 0, ProtocolError{Reason: "Splice mixed with direct descriptor use"}
	}
	r.readUsed = true
	r.writeUsed = true
	for copied == 0 {
		switch s.InputPoll(-1) {
		case PollSuccess:
		case PollEnd:
			return 0, nil
		case PollClosed:
			if r.inState == inputStateClosed {
				return 0, nil
			}
			return 0, requestFinishedError{}
		default:
			if s.err != nil {
				return 0, s.err
			}
			return 0, ProtocolError{Reason: "request body failed"}
		}
		if err = s.beginOutput(r); err != nil {
			return 0, err
		}
		limit := maxLength
		if r.inState == inputStateBodyKnown && r.inRemaining < limit {
			limit = r.inRemaining
		}
		if r.outState == outputStateBodyKnown && r.outRemaining < limit {
			limit = r.outRemaining
		}
		if limit == 0 {
			return 0, nil
		}
		copied, err = s.spliceOnce(r, limit)
		if err != nil {
			return 0, err
		}
	}
	return copied, nil
}

// spliceOnce moves at most limit bytes from the input pipe to the
// output pipe, preferring splice(2) and falling back to a userspace
// copy where splice is not applicable.
func (s *Session) spliceOnce(r *request, limit uint64) (copied uint64, err error) {
	for {
		n, e := unix.Splice(s.inFD, nil, s.outFD, nil, int(limit), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
		if e == unix.EINTR {
			continue
		}
		if e == unix.EAGAIN {
			// The input is readable, so the output pipe is full.
			switch s.OutputPoll(-1) {
			case PollSuccess:
				continue
			case PollClosed:
				return 0, requestFinishedError{}
			default:
				if s.err != nil {
					return 0, s.err
				}
				return 0, ProtocolError{Reason: "response body failed"}
			}
		}
		if e == unix.EINVAL || e == unix.ENOSYS {
			return s.copyOnce(r, limit)
		}
		if e != nil {
			r.inState = inputStateError
			r.outState = outputStateError
			return 0, s.fail(errors.WithStack(e))
		}
		if n == 0 {
			r.inState = inputStateError
			return 0, s.fail(errors.New("input pipe closed early"))
		}
		s.countReceived(r, uint64(n))
		s.countSent(r, uint64(n))
		return uint64(n), nil
	}
}

// copyOnce is the userspace fallback for descriptors splice(2) rejects.
func (s *Session) copyOnce(r *request, limit uint64) (copied uint64, err error) {
	buf := make([]byte, SpliceBufferSize)
	if limit < uint64(len(buf)) {
		buf = buf[:limit]
	}
	var n int
	for {
		n, err = unix.Read(s.inFD, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		if err != nil {
			r.inState = inputStateError
			return 0, s.fail(errors.WithStack(err))
		}
		if n == 0 {
			r.inState = inputStateError
			return 0, s.fail(errors.New("input pipe closed early"))
		}
		break
	}
	s.countReceived(r, uint64(n))
	for off := 0; off < n; {
		w, e := unix.Write(s.outFD, buf[off:n])
		if e == unix.EINTR {
			continue
		}
		if e == unix.EAGAIN {
			switch s.OutputPoll(-1) {
			case PollSuccess:
				continue
			case PollClosed:
				return 0, requestFinishedError{}
			default:
				if s.err != nil {
					return 0, s.err
				}
				return 0, ProtocolError{Reason: "response body failed"}
			}
		}
		if e != nil {
			r.outState = outputStateError
			return 0, s.fail(errors.WithStack(e))
		}
		off += w
		s.countSent(r, uint64(w))
	}
	return uint64(n), nil
}

// SpliceAll copies the whole rest of the request body to the response
// body. When the remaining input length is known before the body is
// announced, the response length is declared first. If end is true the
// request is ended afterwards.
func (s *Session) SpliceAll(end bool) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.outState == outputStateNone || r.outState == outputStateHeaders {
		if !r.haveOutLength && r.inState == inputStateBodyKnown {
			if err = s.SetLength(r.outSent + r.inRemaining); err != nil {
				return err
			}
		}
	}
	for {
		n, e := s.Splice(uint64(SpliceBufferSize))
		if e != nil {
			return e
		}
		if n == 0 {
			break
		}
	}
	if end {
		return s.End()
	}
	return nil
}

// End completes the current request. A missing status becomes
// "204 No Content", a missing body announcement becomes NO_DATA, and
// an undeclared body length is reported to the peer with a final
// LENGTH packet. Any unread request body is discarded. End is implied
// by the next Accept.
func (s *Session) End() error {
	if s.err != nil {
		return s.err
	}
	r := s.req
	if r == nil || !r.complete {
		return noRequestError{}
	}
	if r.finished {
		if r.outState == outputStateError {
			return ProtocolError{Reason: "response failed"}
		}
		return nil
	}
	switch r.outState {
	case outputStateNone, outputStateHeaders:
		if r.outState == outputStateNone {
			if err := s.Status(204); err != nil {
				return err
			}
		}
		if r.haveOutLength && r.outDeclared > 0 {
			return s.failRequest("declared response length never sent")
		}
		var b []byte
		if r.haveOutLength {
			// A declared empty body still gets its DATA packet.
			b = appendPacket(r.outHeaders, CommandData, nil)
		} else {
			b = appendPacket(r.outHeaders, CommandNoData, nil)
		}
		r.outHeaders = nil
		if err := s.ctrl.send(b); err != nil {
			return s.fail(err)
		}
		r.outState = outputStateEnd
	case outputStateBodyUnknown:
		if err := s.ctrl.sendUint64(CommandLength, r.outSent); err != nil {
			return s.fail(err)
		}
		r.outState = outputStateEnd
	case outputStateBodyKnown:
		if r.outRemaining > 0 {
			return s.failRequest("declared response length never sent")
		}
		r.outState = outputStateEnd
	case outputStateError:
		return ProtocolError{Reason: "response failed"}
	}
	if r.inputActive() {
		if err := s.closeInput(r); err != nil {
			if !IsProtocolError(err) {
				return err
			}
		}
	}
	r.finished = true
	s.log.Debug().Uint32("status", r.status).Uint64("sent", r.outSent).Msg("request ended")
	return nil
}

// Abort gives up on the current request, telling the peer how many
// response body bytes were actually sent. It is the right call when an
// error is discovered after the status went out.
func (s *Session) Abort() error {
	if s.err != nil {
		return s.err
	}
	r := s.req
	if r == nil || !r.complete {
		return noRequestError{}
	}
	if r.finished {
		return nil
	}
	if err := s.ctrl.sendUint64(CommandPremature, r.outSent); err != nil {
		return s.fail(err)
	}
	if r.inputActive() {
		if err := s.closeInput(r); err != nil && !IsProtocolError(err) {
			return err
		}
	}
	r.outState = outputStateError
	r.inState = inputStateError
	r.finished = true
	s.log.Debug().Uint64("sent", r.outSent).Msg("request aborted")
	return nil
}
