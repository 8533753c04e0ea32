package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"evalstream/internal/evalclient"
)

// FakeTransport hands out a single scripted stream whose chunks the test pushes.
// Reads block until a chunk is pushed, the stream is finished, or the request is aborted.
type FakeTransport struct {
	// OpenErr, when set, is returned by Open instead of a stream.
	OpenErr error

	chunks   chan []byte
	finish   sync.Once
	mu       sync.Mutex
	jobs     []evalclient.JobSpec
	opened   chan struct{}
	openOnce sync.Once
	aborts   atomic.Int32
	closes   atomic.Int32
}

// NewFakeTransport builds a transport with room for buffered chunks.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		chunks: make(chan []byte, 1024),
		opened: make(chan struct{}),
	}
}

// Open implements session.Transport.
func (f *FakeTransport) Open(ctx context.Context, job evalclient.JobSpec) (*evalclient.Stream, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	defer f.openOnce.Do(func() { close(f.opened) })
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	context.AfterFunc(ctx, func() {
		if errors.Is(context.Cause(ctx), context.Canceled) {
			f.aborts.Add(1)
		}
	})
	return &evalclient.Stream{
		Body:      &fakeBody{ctx: ctx, chunks: f.chunks, closes: &f.closes},
		RequestID: "req-test",
		Status:    200,
	}, nil
}

// Push queues one raw chunk for the stream.
func (f *FakeTransport) Push(chunk string) {
	f.chunks <- []byte(chunk)
}

// Finish ends the stream with io.EOF once queued chunks are read.
func (f *FakeTransport) Finish() {
	f.finish.Do(func() { close(f.chunks) })
}

// Opened is closed after the first Open call.
func (f *FakeTransport) Opened() <-chan struct{} { return f.opened }

// Aborts reports how many times the request context was cancelled.
func (f *FakeTransport) Aborts() int { return int(f.aborts.Load()) }

// Closes reports how many times the body was closed.
func (f *FakeTransport) Closes() int { return int(f.closes.Load()) }

// Jobs returns the jobs passed to Open.
func (f *FakeTransport) Jobs() []evalclient.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evalclient.JobSpec(nil), f.jobs...)
}

type fakeBody struct {
	ctx     context.Context
	chunks  <-chan []byte
	pending []byte
	closes  *atomic.Int32
	closed  atomic.Bool
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if len(b.pending) == 0 {
		select {
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		case chunk, ok := <-b.chunks:
			if !ok {
				return 0, io.EOF
			}
			b.pending = chunk
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *fakeBody) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		b.closes.Add(1)
	}
	return nil
}
