// Package mockhttp provides a small builder for mock HTTP servers,
// used to stand in for the presigned object-storage endpoint in
// transfer tests.
//
// # Usage
//
//	b := mockhttp.New().Status("/bucket/*", http.StatusOK)
//	capture := b.Capture()
//	url, done := b.BuildURL()
//	defer done()
//
//	// ... PUT against url ...
//
//	req := capture.Last()
//	// assert on req.Method, req.Header, req.Body
package mockhttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Handler handles an HTTP request and reports whether it did.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds mock HTTP servers with configurable behavior.
type ServerBuilder struct {
	handlers    []Handler
	defaultCode int
	capture     *Capture
}

// New creates a ServerBuilder. Unmatched requests return 404.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// Handler adds a custom handler.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// Status returns an empty response with the given status for matching paths.
func (b *ServerBuilder) Status(path string, code int) *ServerBuilder {
	return b.StatusWithBody(path, code, "")
}

// StatusWithBody returns a response with the given status and body.
func (b *ServerBuilder) StatusWithBody(path string, code int, body string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if !matchPath(r.URL.Path, path) {
			return false
		}
		w.WriteHeader(code)
		if body != "" {
			w.Write([]byte(body))
		}
		return true
	})
}

// RequireHeader rejects requests missing the header value with 400.
func (b *ServerBuilder) RequireHeader(name, value string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get(name) != value {
			w.WriteHeader(http.StatusBadRequest)
			return true
		}
		return false
	})
}

// Capture enables request recording and returns the Capture for
// inspection after the test drives its requests.
func (b *ServerBuilder) Capture() *Capture {
	if b.capture == nil {
		b.capture = &Capture{}
		b.Handler(func(_ http.ResponseWriter, r *http.Request) bool {
			b.capture.record(r)
			return false
		})
	}
	return b.capture
}

// Build creates the httptest.Server with all configured handlers.
func (b *ServerBuilder) Build() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range b.handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(b.defaultCode)
	}))
}

// BuildURL creates the server and returns its URL and a shutdown func.
func (b *ServerBuilder) BuildURL() (string, func()) {
	server := b.Build()
	return server.URL, server.Close
}

// matchPath matches exactly, or by prefix when the pattern ends in "*".
func matchPath(requestPath, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(requestPath, strings.TrimSuffix(pattern, "*"))
	}
	return requestPath == pattern
}

// CapturedRequest is a recorded request with its body drained.
type CapturedRequest struct {
	Method        string
	Path          string
	Query         string
	Header        http.Header
	Body          []byte
	ContentLength int64
}

// Capture records requests for inspection.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

func (c *Capture) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, CapturedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Header:        r.Header.Clone(),
		Body:          body,
		ContentLength: r.ContentLength,
	})
}

// Count returns how many requests were recorded.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Last returns the most recent request, or nil if none arrived.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	req := c.requests[len(c.requests)-1]
	return &req
}
