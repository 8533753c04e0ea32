package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest captures what the NDJSON server received.
type RecordedRequest struct {
	Method  string
	Path    string
	Header  http.Header
	Body    []byte
	Aborted bool
}

// NDJSONServer serves a fixed list of raw chunks, flushing after each one.
type NDJSONServer struct {
	URL string

	mu       sync.Mutex
	requests []RecordedRequest
	server   *httptest.Server
}

// StartNDJSONServer launches a server writing chunks verbatim with the given status.
// When hold is non-nil the handler waits on it after the last chunk, keeping the stream open.
func StartNDJSONServer(t testing.TB, status int, chunks []string, hold <-chan struct{}) *NDJSONServer {
	t.Helper()
	s := &NDJSONServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(status)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range chunks {
			if _, err := io.WriteString(w, chunk); err != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				rec.Aborted = true
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
	}))
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)
	return s
}

// Requests returns the requests handled so far.
func (s *NDJSONServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}
