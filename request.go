package was

// inputState tracks the request entity body as announced by the peer
// and consumed by the application.
type inputState int

const (
	// inputStateInit means neither NO_DATA nor DATA has arrived yet.
	inputStateInit inputState = iota
	// inputStateNoBody means the peer announced NO_DATA.
	inputStateNoBody
	// inputStateBodyUnknown means DATA arrived without a LENGTH yet.
	inputStateBodyUnknown
	// inputStateBodyKnown means the remaining byte count is known.
	inputStateBodyKnown
	// inputStateEnd means the body was fully consumed or there was none.
	inputStateEnd
	// inputStateClosed means the application sent STOP and residual
	// body bytes are being drained.
	inputStateClosed
	// inputStateError means the body pipe or protocol failed.
	inputStateError
)

func (st inputState) String() string {
	switch st {
	case inputStateInit:
		return "INIT"
	case inputStateNoBody:
		return "NO_BODY"
	case inputStateBodyUnknown:
		return "BODY_UNKNOWN"
	case inputStateBodyKnown:
		return "BODY_KNOWN"
	case inputStateEnd:
		return "END"
	case inputStateClosed:
		return "CLOSED"
	case inputStateError:
		return "ERROR"
	}
	return "INPUTSTATE(?)"
}

// outputState tracks the response as produced by the application.
type outputState int

const (
	// outputStateNone means no status has been set.
	outputStateNone outputState = iota
	// outputStateHeaders means status and headers are staged but no
	// body decision has been made.
	outputStateHeaders
	// outputStateBodyUnknown means a body of undeclared length is being sent.
	outputStateBodyUnknown
	// outputStateBodyKnown means a body of declared length is being sent.
	outputStateBodyKnown
	// outputStateEnd means the response is complete.
	outputStateEnd
	// outputStateError means the response failed and the request is dead.
	outputStateError
)

func (st outputState) String() string {
	switch st {
	case outputStateNone:
		return "NONE"
	case outputStateHeaders:
		return "HEADERS"
	case outputStateBodyUnknown:
		return "BODY_UNKNOWN"
	case outputStateBodyKnown:
		return "BODY_KNOWN"
	case outputStateEnd:
		return "END"
	case outputStateError:
		return "ERROR"
	}
	return "OUTPUTSTATE(?)"
}

// request holds the state of one request from its REQUEST packet until
// the response is complete or the request is aborted.
type request struct {
	// metadata from the peer
	method      Method
	uri         string
	scriptName  string
	pathInfo    string
	queryString string
	remoteHost  string
	headers     pairList
	parameters  pairList

	// arrival flags
	haveMethod bool
	haveURI    bool
	complete   bool // DATA or NO_DATA seen, metadata is final
	finished   bool // response done or request aborted

	// input side
	inState       inputState
	hadBody       bool
	inReceived    uint64 // body bytes read off the pipe
	inRemaining   uint64 // valid in inputStateBodyKnown
	pendingLength uint64 // LENGTH seen before DATA/NO_DATA
	havePending   bool
	readUsed      bool // Read was called; Received is no longer legal
	receivedUsed  bool // Received was called; Read is no longer legal
	inDeclared    uint64 // total declared length, valid when haveDeclared
	haveDeclared  bool
	stopSent      bool

	// output side
	outState      outputState
	status        uint32
	outHeaders    []byte // staged STATUS, HEADER and LENGTH packets
	outDeclared   uint64 // declared response length
	haveOutLength bool
	outRemaining  uint64 // valid in outputStateBodyKnown
	outSent       uint64 // body bytes written to the pipe
	writeUsed     bool   // Write was called; Sent is no longer legal
	sentUsed      bool   // Sent was called; Write is no longer legal
}

func newRequest() *request {
	return &request{}
}

// inputActive returns true while body bytes may still arrive on the pipe.
func (r *request) inputActive() bool {
	switch r.inState {
	case inputStateInit, inputStateBodyUnknown, inputStateBodyKnown, inputStateClosed:
		return true
	}
	return false
}

// wantsInput returns true if the application may still read body bytes.
func (r *request) wantsInput() bool {
	switch r.inState {
	case inputStateInit, inputStateBodyUnknown, inputStateBodyKnown:
		return true
	}
	return false
}
