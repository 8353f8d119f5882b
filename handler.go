package was

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// ResponseWriter implements http.ResponseWriter for a Session.
// A Content-Length header is routed to SetLength so the peer learns
// the body size up front.
type ResponseWriter struct {
	*Session
	Code        int         // the HTTP response code from WriteHeader
	HeaderMap   http.Header // the HTTP response headers
	wroteHeader bool
}

// NewResponseWriter returns an initialized ResponseWriter.
func NewResponseWriter(s *Session) *ResponseWriter {
	return &ResponseWriter{
		Session:   s,
		HeaderMap: make(http.Header),
		Code:      200,
	}
}

// Header returns the response headers.
func (rw *ResponseWriter) Header() http.Header {
	m := rw.HeaderMap
	if m == nil {
		m = make(http.Header)
		rw.HeaderMap = m
	}
	return m
}

func (rw *ResponseWriter) Write(buf []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(200)
	}
	return rw.Session.Write(buf)
}

// WriteHeader sends the status code and the accumulated headers.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.Code = code
		if rw.Session.Status(uint32(code)) != nil {
			return
		}
		for name, values := range rw.HeaderMap {
			if name == "Content-Length" {
				if n, err := strconv.ParseUint(values[0], 10, 64); err == nil {
					_ = rw.Session.SetLength(n)
				}
				continue
			}
			for _, value := range values {
				if err := rw.Session.SetHeader(name, value); err != nil {
					if !IsProtocolError(err) {
						return
					}
				}
			}
		}
		rw.wroteHeader = true
	}
}

// Reset sets the ResponseWriter to the initial state.
func (rw *ResponseWriter) Reset() {
	rw.Code = 200
	rw.HeaderMap = nil
	rw.wroteHeader = false
}

// requestBody adapts the request body to io.ReadCloser.
type requestBody struct {
	s *Session
}

func (rb requestBody) Read(p []byte) (int, error) {
	return rb.s.Read(p)
}

func (rb requestBody) Close() error {
	return rb.s.InputClose()
}

// NewRequest builds an http.Request from the current request metadata.
// The body reads from the Session, so it is only valid until the next
// Accept.
func (s *Session) NewRequest() (req *http.Request, err error) {
	r := s.current()
	if r == nil {
		return nil, noRequestError{}
	}
	u := &url.URL{
		Path:     r.uri,
		RawQuery: r.queryString,
	}
	if r.scriptName != "" || r.pathInfo != "" {
		u.Path = r.scriptName + r.pathInfo
	}
	req = &http.Request{
		Method:     r.method.String(),
		URL:        u,
		RequestURI: r.uri,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header, len(r.headers.pairs)),
		RemoteAddr: r.remoteHost,
	}
	for _, p := range r.headers.pairs {
		req.Header.Add(p.Name, p.Value)
		if http.CanonicalHeaderKey(p.Name) == "Host" {
			req.Host = p.Value
		}
	}
	if r.hadBody {
		req.Body = requestBody{s: s}
		if remaining, known := s.InputRemaining(); known {
			req.ContentLength = int64(remaining)
		} else {
			req.ContentLength = -1
		}
	} else {
		req.Body = http.NoBody
	}
	return req, nil
}

// Serve accepts requests until the peer shuts down, dispatching each
// to the handler. A handler panic aborts the request but keeps the
// Session serving.
func Serve(s *Session, h http.Handler) (err error) {
	for {
		if _, err = s.Accept(); err != nil {
			if err == io.EOF {
				return nil
			}
			if IsProtocolError(err) {
				continue
			}
			return errors.WithStack(err)
		}
		serveOne(s, h)
	}
}

func serveOne(s *Session, h http.Handler) {
	defer func() {
		if recover() != nil {
			_ = s.Abort()
		}
	}()
	req, err := s.NewRequest()
	if err != nil {
		return
	}
	h.ServeHTTP(NewResponseWriter(s), req)
	_ = s.End()
}
