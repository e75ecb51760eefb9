package helix

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one connection pool plus the default headers sent with every
// request on it. Header updates are visible to all requests built after
// SetHeader returns. A closed Session is never reopened.
type Session struct {
	mu     sync.RWMutex
	header http.Header

	transport  *http.Transport
	httpClient *http.Client
	closed     atomic.Bool
}

// NewSession creates a Session with its own connection pool. A zero timeout
// leaves requests bounded only by their context.
func NewSession(header http.Header, timeout time.Duration) *Session {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Session{
		header:    header.Clone(),
		transport: transport,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// HTTPClient returns the pooled client backing this session.
func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

// Header returns a copy of the default headers.
func (s *Session) Header() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.Clone()
}

// SetHeader replaces one default header.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Set(key, value)
}

// Close releases idle connections and marks the session closed. It is safe
// to call more than once.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.transport.CloseIdleConnections()
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
