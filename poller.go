package was

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PollResult is the outcome of waiting for descriptor readiness.
type PollResult int

const (
	// PollSuccess means the descriptor is ready.
	PollSuccess PollResult = iota
	// PollTimeout means the timeout expired before readiness.
	PollTimeout
	// PollEnd means the transfer is already complete and no wait is needed.
	PollEnd
	// PollClosed means the request body was closed or truncated, there
	// is no current request, or the current request was replaced or
	// finished while waiting.
	PollClosed
	// PollError means the wait failed; the Session error state is set.
	PollError
)

func (pr PollResult) String() string {
	switch pr {
	case PollSuccess:
		return "SUCCESS"
	case PollTimeout:
		return "TIMEOUT"
	case PollEnd:
		return "END"
	case PollClosed:
		return "CLOSED"
	case PollError:
		return "ERROR"
	}
	return "POLLRESULT(?)"
}

// pollEvent reports which of the polled descriptors became ready.
type pollEvent int

const (
	pollEventTimeout pollEvent = iota
	pollEventControl
	pollEventData
)

// pollDeadline converts a millisecond timeout into an absolute deadline.
// Negative timeouts mean no deadline.
func pollDeadline(timeout int) (deadline time.Time) {
	if timeout >= 0 {
		deadline = time.Now().Add(time.Duration(timeout) * time.Millisecond)
	}
	return
}

// deadlineMillis returns the poll timeout remaining until the deadline,
// or -1 if there is no deadline. A deadline in the past yields zero.
func deadlineMillis(deadline time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}

// pollFDs waits for the control channel and optionally one data pipe.
// dataFD is polled with dataEvents (unix.POLLIN or unix.POLLOUT) when
// nonnegative. Control readiness wins over data readiness so that
// packets such as STOP are serviced before any blocked transfer.
func pollFDs(controlFD, dataFD int, dataEvents int16, deadline time.Time) (ev pollEvent, err error) {
	fds := []unix.PollFd{{Fd: int32(controlFD), Events: unix.POLLIN}}
	if dataFD >= 0 {
		fds = append(fds, unix.PollFd{Fd: int32(dataFD), Events: dataEvents})
	}
	for {
		n, e := unix.Poll(fds, deadlineMillis(deadline))
		if e == unix.EINTR {
			continue
		}
		if e != nil {
			return pollEventTimeout, errors.WithStack(e)
		}
		if n == 0 {
			return pollEventTimeout, nil
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
			return pollEventControl, nil
		}
		if dataFD >= 0 && fds[1].Revents != 0 {
			return pollEventData, nil
		}
	}
}
