package was

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HasBody returns true if the peer announced a request entity body,
// even one that has been fully consumed already.
func (s *Session) HasBody() bool {
	if r := s.current(); r != nil {
		return r.hadBody
	}
	return false
}

// InputRemaining returns the number of request body bytes not yet
// consumed, with known false if the peer has not declared a length.
func (s *Session) InputRemaining() (remaining uint64, known bool) {
	if r := s.current(); r != nil {
		switch r.inState {
		case inputStateNoBody, inputStateEnd, inputStateClosed:
			return 0, true
		case inputStateBodyKnown:
			return r.inRemaining, true
		}
	}
	return
}

// InputPoll waits for request body bytes to become readable, servicing
// control packets while it waits. A negative timeout blocks forever,
// zero returns immediately.
func (s *Session) InputPoll(timeout int) PollResult {
	r := s.current()
	if r == nil {
		return PollClosed
	}
	switch r.inState {
	case inputStateNoBody, inputStateEnd:
		return PollEnd
	case inputStateClosed:
		return PollClosed
	case inputStateError:
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
		switch r.inState {
		case inputStateNoBody, inputStateEnd:
			return PollEnd
		case inputStateClosed:
			return PollClosed
		case inputStateError:
			return PollError
		}
		ev, err := pollFDs(s.ctrl.fd, s.inFD, unix.POLLIN, deadline)
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
		// control is readable; the next serviceControl picks it up
	}
}

// Read reads request body bytes, blocking until at least one byte is
// available. It returns io.EOF at the end of the body. Read must not
// be mixed with Received on the same request.
func (s *Session) Read(p []byte) (n int, err error) {
	r, err := s.mustCurrent()
	if err != nil {
		return 0, err
	}
	if r.receivedUsed {
		return 0, ProtocolError{Reason: "Read after Received"}
	}
	r.readUsed = true
	for {
		switch r.inState {
		case inputStateNoBody, inputStateEnd, inputStateClosed:
			return 0, io.EOF
		case inputStateError:
			return 0, ProtocolError{Reason: "request body failed"}
		}
		limit := len(p)
		if r.inState == inputStateBodyKnown && uint64(limit) > r.inRemaining {
			limit = int(r.inRemaining)
		}
		if limit == 0 {
			return 0, nil
		}
		n, err = s.readInput(r, p[:limit])
		if n > 0 || err != nil {
			return
		}
	}
}

// readInput performs one non-blocking read of the body pipe, waiting
// for readiness first. A zero return with nil error means the caller
// should recheck the input state.
func (s *Session) readInput(r *request, p []byte) (n int, err error) {
	switch s.InputPoll(-1) {
	case PollSuccess:
	case PollEnd:
		return 0, nil
	case PollClosed:
		// A truncated body reads as end of body, not as an error.
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
	for {
		n, err = unix.Read(s.inFD, p)
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
		s.countReceived(r, uint64(n))
		return n, nil
	}
}

// countReceived advances the body byte counters after n bytes were
// taken off the pipe.
func (s *Session) countReceived(r *request, n uint64) {
	r.inReceived += n
	if r.inState == inputStateBodyKnown || r.inState == inputStateClosed {
		if n >= r.inRemaining {
			r.inRemaining = 0
			if r.inState == inputStateBodyKnown {
				r.inState = inputStateEnd
			}
		} else {
			r.inRemaining -= n
		}
	}
}

// Received reports nbytes read directly from the descriptor given by
// InputFD. It must not be mixed with Read on the same request.
func (s *Session) Received(nbytes uint64) error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	if r.readUsed {
		return ProtocolError{Reason: "Received after Read"}
	}
	r.receivedUsed = true
	switch r.inState {
	case inputStateBodyKnown:
		if nbytes > r.inRemaining {
			return s.failRequest("received count exceeds declared length")
		}
	case inputStateBodyUnknown:
	default:
		return ProtocolError{Reason: "no request body"}
	}
	s.countReceived(r, nbytes)
	return nil
}

// InputClose abandons the rest of the request body. It sends STOP and
// discards pending body bytes until the peer acknowledges the
// truncation point or the declared length is reached.
func (s *Session) InputClose() error {
	r, err := s.mustCurrent()
	if err != nil {
		return err
	}
	return s.closeInput(r)
}

func (s *Session) closeInput(r *request) error {
	switch r.inState {
	case inputStateNoBody, inputStateEnd:
		return nil
	case inputStateError:
		return ProtocolError{Reason: "request body failed"}
	}
	if !r.stopSent && r.inState != inputStateClosed {
		if err := s.ctrl.sendEmpty(CommandStop); err != nil {
			return s.fail(err)
		}
		r.stopSent = true
		// The drain target is whatever the peer declares with
		// PREMATURE, unless a LENGTH already fixed it.
		r.inState = inputStateClosed
	}
	return s.drainInput(r)
}

// drainInput discards body bytes until the truncation point or the
// declared length is reached, then puts the input at END.
func (s *Session) drainInput(r *request) error {
	buf := make([]byte, DiscardBufferSize)
	for r.inState == inputStateClosed {
		if err := s.serviceControl(); err != nil {
			return err
		}
		if s.err != nil {
			return s.err
		}
		if s.req != r || r.finished {
			return requestFinishedError{}
		}
		if r.inState != inputStateClosed {
			break
		}
		if r.haveDeclared && r.inReceived >= r.inDeclared {
			r.inState = inputStateEnd
			return nil
		}
		ev, err := pollFDs(s.ctrl.fd, s.inFD, unix.POLLIN, pollDeadline(-1))
		if err != nil {
			return s.fail(err)
		}
		if ev != pollEventData {
			continue
		}
		limit := len(buf)
		if r.haveDeclared && r.inDeclared-r.inReceived < uint64(limit) {
			limit = int(r.inDeclared - r.inReceived)
		}
		for {
			n, e := unix.Read(s.inFD, buf[:limit])
			if e == unix.EINTR {
				continue
			}
			if e == unix.EAGAIN {
				break
			}
			if e != nil {
				r.inState = inputStateError
				return s.fail(errors.WithStack(e))
			}
			if n == 0 {
				r.inState = inputStateError
				return s.fail(errors.New("input pipe closed early"))
			}
			r.inReceived += uint64(n)
			break
		}
	}
	if r.inState == inputStateError {
		return ProtocolError{Reason: "request body failed"}
	}
	return nil
}
