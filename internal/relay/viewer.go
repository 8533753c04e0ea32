package relay

import (
	_ "embed"
	"net/http"
)

// viewerHTML is a single-page browser client for the websocket feed.
//
//go:embed viewer/index.html
var viewerHTML []byte

// handleViewer writes the embedded viewer page.
func (s *Server) handleViewer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(viewerHTML)
}
