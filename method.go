package was

import "fmt"

// Method enumerates the request method codes shared with the peer.
type Method uint32

const (
	MethodNull Method = iota
	MethodHead
	MethodGet
	MethodPost
	MethodPut
	MethodDelete
	MethodOptions
	MethodTrace
	MethodPropfind
	MethodProppatch
	MethodMkcol
	MethodCopy
	MethodMove
	MethodLock
	MethodUnlock
	MethodReport
	MethodPatch
	methodInvalid
)

var methodTexts = map[Method]string{
	MethodHead:      "HEAD",
	MethodGet:       "GET",
	MethodPost:      "POST",
	MethodPut:       "PUT",
	MethodDelete:    "DELETE",
	MethodOptions:   "OPTIONS",
	MethodTrace:     "TRACE",
	MethodPropfind:  "PROPFIND",
	MethodProppatch: "PROPPATCH",
	MethodMkcol:     "MKCOL",
	MethodCopy:      "COPY",
	MethodMove:      "MOVE",
	MethodLock:      "LOCK",
	MethodUnlock:    "UNLOCK",
	MethodReport:    "REPORT",
	MethodPatch:     "PATCH",
}

// Valid returns true if the method code is in the registered space.
func (m Method) Valid() bool {
	return m > MethodNull && m < methodInvalid
}

func (m Method) String() string {
	if text, ok := methodTexts[m]; ok {
		return text
	}
	return fmt.Sprintf("METHOD(%d)", uint32(m))
}
