package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"evalstream/internal/evalclient"
	"evalstream/internal/httpserve"
	"evalstream/internal/logging"
)

// Options configures the scripted endpoint.
type Options struct {
	// Script is replayed for every request. When empty, each request gets a
	// generated run sized by the job's max_prompts (or Prompts).
	Script Script
	// Prompts sizes generated runs when the job does not set max_prompts.
	Prompts int
	// MaxChunk bounds the random size of each flushed write.
	MaxChunk int
	// Delay is the pause after each event.
	Delay time.Duration
	// Token, when set, must arrive as a bearer credential.
	Token string
	// StreamPath defaults to the evaluation client's path.
	StreamPath string
	Seed       uint64
}

// Server replays scripts as chunked NDJSON.
type Server struct {
	opts   Options
	logger *slog.Logger
}

// New builds a mock server.
func New(opts Options) *Server {
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = 64
	}
	if opts.Prompts <= 0 {
		opts.Prompts = 20
	}
	if strings.TrimSpace(opts.StreamPath) == "" {
		opts.StreamPath = evalclient.DefaultStreamPath
	}
	return &Server{opts: opts, logger: logging.Logger().With("component", "mock")}
}

// Router returns the mock endpoint routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httpserve.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Post(s.opts.StreamPath, s.handleStream)
	return r
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var job evalclient.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid job: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := job.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	script := s.opts.Script
	if len(script.Lines) == 0 {
		total := job.MaxPrompts
		if total <= 0 {
			total = s.opts.Prompts
		}
		generated, err := Generate(total, s.opts.Seed)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		script = generated
	}
	delay := s.opts.Delay
	if script.Delay > 0 {
		delay = script.Delay
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("streaming script",
		"dataset", job.DatasetID,
		"model", job.ModelID,
		"lines", len(script.Lines),
		"request_id", r.Header.Get("X-Request-ID"),
	)
	rng := rand.New(rand.NewPCG(s.opts.Seed, uint64(len(script.Lines))))
	cw := &chunkWriter{w: w, flusher: flusher, maxChunk: s.opts.MaxChunk, rng: rng}
	for _, line := range script.Lines {
		if err := cw.write(line + "\n"); err != nil {
			return
		}
		if !sleep(r.Context(), delay) {
			s.logger.Info("client disconnected", "request_id", r.Header.Get("X-Request-ID"))
			return
		}
	}
	_ = cw.flushAll()
}

// chunkWriter emits buffered bytes in random sizes so records straddle writes.
type chunkWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	maxChunk int
	rng      *rand.Rand
	pending  []byte
}

// write queues data and sends every full random-sized chunk, keeping the remainder.
func (c *chunkWriter) write(data string) error {
	c.pending = append(c.pending, data...)
	for {
		size := 1 + c.rng.IntN(c.maxChunk)
		if len(c.pending) < size {
			return nil
		}
		if err := c.send(size); err != nil {
			return err
		}
	}
}

func (c *chunkWriter) flushAll() error {
	if len(c.pending) == 0 {
		return nil
	}
	return c.send(len(c.pending))
}

func (c *chunkWriter) send(n int) error {
	if _, err := c.w.Write(c.pending[:n]); err != nil {
		return err
	}
	c.flusher.Flush()
	c.pending = c.pending[n:]
	return nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Config captures the settings for serving the mock endpoint.
type Config struct {
	Addr    string
	Options Options
}

// Serve runs the mock endpoint until ctx ends.
func Serve(ctx context.Context, cfg Config) error {
	if cfg.Addr == "" {
		return errors.New("mockserver: addr is required")
	}
	return httpserve.Serve(ctx, cfg.Addr, New(cfg.Options).Router())
}
