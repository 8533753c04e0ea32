package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalstream/internal/evalclient"
	"evalstream/internal/evalevent"
	"evalstream/internal/logging"
	"evalstream/internal/ndjson"
	"evalstream/internal/progress"
)

// ErrSessionActive is returned by Start while a session is running.
var ErrSessionActive = errors.New("session already running")

// ErrNotRunning is returned by Cancel when no session is running.
var ErrNotRunning = errors.New("no running session")

// MessageStreamEnded is the failure recorded when the stream closes without a summary.
const MessageStreamEnded = "stream ended unexpectedly"

// Transport opens the evaluation stream for a job.
type Transport interface {
	Open(ctx context.Context, job evalclient.JobSpec) (*evalclient.Stream, error)
}

// Options configures a Controller.
type Options struct {
	Transport  Transport
	ReadBuffer int
	SampleCap  int
	Now        func() time.Time
	Logger     *slog.Logger
	Observers  []Observer
}

// Controller owns the session lifecycle and is the sole mutator of session state.
type Controller struct {
	transport  Transport
	readBuffer int
	sampleCap  int
	now        func() time.Time
	logger     *slog.Logger

	// notifyMu orders snapshot delivery; it is always taken before mu.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	cur       *run
	observers []Observer
	// delivering is set while observers run; deferred is a run whose
	// cancellation arrived during delivery and still has to be published.
	delivering bool
	deferred   *run
}

// NewController builds a controller in the Idle phase.
func NewController(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = ndjson.DefaultReadBuffer
	}
	if opts.SampleCap <= 0 || opts.SampleCap > progress.DefaultSampleCap {
		opts.SampleCap = progress.DefaultSampleCap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}
	return &Controller{
		transport:  opts.Transport,
		readBuffer: opts.ReadBuffer,
		sampleCap:  opts.SampleCap,
		now:        opts.Now,
		logger:     opts.Logger,
		observers:  append([]Observer(nil), opts.Observers...),
	}, nil
}

// Subscribe registers an observer for subsequent snapshots.
func (c *Controller) Subscribe(o Observer) {
	if o == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, o)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	if c.cur == nil {
		return Snapshot{Phase: PhaseIdle, State: progress.NewAggregator(1).State()}
	}
	return c.cur.snapshot()
}

// Start begins a new session and returns the snapshot it replaced.
// It fails with ErrSessionActive while another session is running.
func (c *Controller) Start(ctx context.Context, job evalclient.JobSpec) (Snapshot, error) {
	if err := job.Validate(); err != nil {
		return Snapshot{}, err
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.cur != nil && c.cur.phase == PhaseRunning {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("start: %w", ErrSessionActive)
	}
	previous := c.snapshotLocked()
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:        uuid.NewString(),
		job:       job.Redacted(),
		phase:     PhaseRunning,
		startedAt: c.now(),
		agg:       progress.NewAggregator(c.sampleCap),
		cancel:    sync.OnceFunc(cancel),
		done:      make(chan struct{}),
	}
	c.cur = r
	snap := r.snapshot()
	c.mu.Unlock()

	c.logger.Info("session started", "session", r.id, "dataset", job.DatasetID, "model", job.ModelID)
	c.deliver(snap)
	go c.pump(ctx, runCtx, r, job)
	return previous, nil
}

// Cancel aborts the running session. The phase flips to Cancelled before it returns.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	r := c.cur
	if r == nil || r.phase != PhaseRunning {
		c.mu.Unlock()
		return fmt.Errorf("cancel: %w", ErrNotRunning)
	}
	r.phase = PhaseCancelled
	r.finishedAt = c.now()
	r.cancel()
	if c.delivering {
		// An observer is running, possibly on this goroutine; the delivery
		// loop publishes the cancelled snapshot when it returns.
		c.deferred = r
		c.mu.Unlock()
		c.logger.Info("session cancelled", "session", r.id)
		return nil
	}
	c.mu.Unlock()

	c.logger.Info("session cancelled", "session", r.id)
	c.publish(r)
	return nil
}

// Done returns a channel closed when the current session's pump has exited.
// It is nil before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	return c.cur.done
}

// Wait blocks until the current session's pump exits or ctx ends.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	done := c.Done()
	if done == nil {
		return c.Snapshot(), nil
	}
	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// pump reads the stream chunk by chunk until the session leaves Running.
func (c *Controller) pump(parent, ctx context.Context, r *run, job evalclient.JobSpec) {
	defer close(r.done)
	defer r.cancel()

	stream, err := c.transport.Open(ctx, job)
	if err != nil {
		c.fail(parent, r, err)
		return
	}
	defer stream.Close()
	c.setRequestID(r, stream.RequestID)

	var dec ndjson.Decoder
	buf := make([]byte, c.readBuffer)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if !c.applyChunk(r, dec.Feed(buf[:n]), n) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			if line, ok := dec.Flush(); ok && !c.applyChunk(r, []string{line}, 0) {
				return
			}
			c.finishEOF(r)
			return
		}
		if err != nil {
			c.fail(parent, r, fmt.Errorf("read stream: %w", err))
			return
		}
	}
}

// applyChunk applies every line of one chunk atomically.
// It reports whether the session is still running afterwards.
func (c *Controller) applyChunk(r *run, lines []string, n int) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.cur != r || r.phase != PhaseRunning {
		c.mu.Unlock()
		return false
	}
	if n > 0 {
		r.chunks++
		r.bytes += n
	}
	for _, line := range lines {
		evt, ok := evalevent.Parse(line)
		if !ok {
			continue
		}
		r.agg.Apply(evt)
		switch typed := evt.(type) {
		case evalevent.Malformed:
			c.logger.Debug("skipping malformed line", "session", r.id, "reason", typed.Reason, "line", truncate(typed.RawLine, 200))
		case evalevent.Error:
			c.logger.Warn("producer reported error", "session", r.id, "message", typed.Message)
		case evalevent.Summary:
			r.phase = PhaseCompleted
			r.finishedAt = c.now()
			r.cancel()
			c.logger.Info("session completed", "session", r.id, "job_id", typed.JobID, "total_prompts", typed.TotalPrompts)
		}
		if r.phase != PhaseRunning {
			break
		}
	}
	snap := r.snapshot()
	c.mu.Unlock()

	c.deliver(snap)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == r && r.phase == PhaseRunning
}

// finishEOF fails a session whose stream closed before a summary.
func (c *Controller) finishEOF(r *run) {
	c.mu.Lock()
	message := MessageStreamEnded
	if last := r.agg.State().LastError; last != "" {
		message = fmt.Sprintf("%s (last error: %s)", MessageStreamEnded, last)
	}
	c.mu.Unlock()
	c.transition(r, PhaseFailed, message)
}

// fail moves a running session to Failed, or to Cancelled when the caller's context ended.
func (c *Controller) fail(parent context.Context, r *run, err error) {
	if parent.Err() != nil {
		c.transition(r, PhaseCancelled, "")
		return
	}
	c.transition(r, PhaseFailed, err.Error())
}

// transition applies a terminal phase if the session is still running.
func (c *Controller) transition(r *run, phase Phase, message string) {
	c.mu.Lock()
	if c.cur != r || r.phase != PhaseRunning {
		c.mu.Unlock()
		return
	}
	r.phase = phase
	r.finishedAt = c.now()
	if message != "" {
		r.agg.SetLastError(message)
	}
	c.mu.Unlock()

	if phase == PhaseFailed {
		c.logger.Warn("session failed", "session", r.id, "error", message)
	} else {
		c.logger.Info("session ended", "session", r.id, "phase", phase)
	}
	c.publish(r)
}

func (c *Controller) setRequestID(r *run, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.requestID = id
}

// publish delivers the latest snapshot of r in order with other deliveries.
func (c *Controller) publish(r *run) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if c.cur != r {
		c.mu.Unlock()
		return
	}
	snap := r.snapshot()
	c.mu.Unlock()
	c.deliver(snap)
}

// deliver notifies observers of snap, then of any cancellation that arrived
// while they ran. Callers hold notifyMu.
func (c *Controller) deliver(snap Snapshot) {
	for {
		c.mu.Lock()
		c.delivering = true
		c.mu.Unlock()

		c.notify(snap)

		c.mu.Lock()
		c.delivering = false
		r := c.deferred
		c.deferred = nil
		if r == nil || c.cur != r {
			c.mu.Unlock()
			return
		}
		snap = r.snapshot()
		c.mu.Unlock()
	}
}

// notify fans a snapshot out to observers. Callers hold notifyMu.
func (c *Controller) notify(snap Snapshot) {
	for _, o := range c.observers {
		o.OnSnapshot(snap)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
