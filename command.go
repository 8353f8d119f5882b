package was

import "fmt"

// Command enumerates the packet command codes shared with the peer.
type Command uint16

const (
	// CommandNop carries no information and is ignored.
	CommandNop = Command(0)
	// CommandRequest starts a new request.
	CommandRequest = Command(1)
	// CommandMethod sets the request method, payload is a 32-bit method code.
	CommandMethod = Command(2)
	// CommandURI sets the request URI.
	CommandURI = Command(3)
	// CommandScriptName sets the SCRIPT_NAME attribute.
	CommandScriptName = Command(4)
	// CommandPathInfo sets the PATH_INFO attribute.
	CommandPathInfo = Command(5)
	// CommandQueryString sets the query string.
	CommandQueryString = Command(6)
	// CommandHeader adds a header, payload is "name=value".
	CommandHeader = Command(7)
	// CommandParameter sets a parameter, payload is "name=value".
	CommandParameter = Command(8)
	// CommandStatus sets the response status, payload is a 32-bit status code.
	CommandStatus = Command(9)
	// CommandNoData announces that no entity body follows.
	CommandNoData = Command(10)
	// CommandData announces that an entity body follows on the body pipe.
	CommandData = Command(11)
	// CommandLength declares the entity body length, payload is a 64-bit count.
	CommandLength = Command(12)
	// CommandStop asks the recipient to stop sending its entity body.
	// The recipient answers with CommandPremature.
	CommandStop = Command(13)
	// CommandPremature announces that the entity body ended early,
	// payload is the 64-bit offset at which it was truncated.
	CommandPremature = Command(14)
	// CommandRemoteHost sets the REMOTE_HOST attribute.
	CommandRemoteHost = Command(15)
	// CommandMetric requests metrics when sent by the peer; when sent by
	// the worker, payload is a 32-bit float value followed by the name.
	CommandMetric = Command(16)
)

var commandTexts = map[Command]string{
	CommandNop:         "NOP",
	CommandRequest:     "REQUEST",
	CommandMethod:      "METHOD",
	CommandURI:         "URI",
	CommandScriptName:  "SCRIPT_NAME",
	CommandPathInfo:    "PATH_INFO",
	CommandQueryString: "QUERY_STRING",
	CommandHeader:      "HEADER",
	CommandParameter:   "PARAMETER",
	CommandStatus:      "STATUS",
	CommandNoData:      "NO_DATA",
	CommandData:        "DATA",
	CommandLength:      "LENGTH",
	CommandStop:        "STOP",
	CommandPremature:   "PREMATURE",
	CommandRemoteHost:  "REMOTE_HOST",
	CommandMetric:      "METRIC",
}

func (cmd Command) String() string {
	if text, ok := commandTexts[cmd]; ok {
		return text
	}
	return fmt.Sprintf("CMD(%d)", uint16(cmd))
}
