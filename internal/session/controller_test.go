package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalstream/internal/evalclient"
	"evalstream/internal/logging"
	"evalstream/internal/testutil"
)

var testJob = evalclient.JobSpec{DatasetID: "gsm8k", ModelID: "gpt-test", Credential: "secret"}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) OnSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

// sequence hands out one transport per Start.
type sequence struct {
	mu   sync.Mutex
	next []*testutil.FakeTransport
}

func (s *sequence) Open(ctx context.Context, job evalclient.JobSpec) (*evalclient.Stream, error) {
	s.mu.Lock()
	t := s.next[0]
	s.next = s.next[1:]
	s.mu.Unlock()
	return t.Open(ctx, job)
}

func newController(t *testing.T, transport Transport) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	clock := testutil.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	c, err := NewController(Options{
		Transport: transport,
		Now:       clock.Now,
		Logger:    logging.Discard(),
		Observers: []Observer{rec},
	})
	require.NoError(t, err)
	return c, rec
}

func waitDone(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx := testutil.Context(t, 5*time.Second)
	snap, err := c.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestNewControllerRequiresTransport(t *testing.T) {
	_, err := NewController(Options{})
	require.Error(t, err)
}

func TestSnapshotBeforeStartIsIdle(t *testing.T) {
	c, _ := newController(t, testutil.NewFakeTransport())
	snap := c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.NotNil(t, snap.Metrics)
	assert.Nil(t, c.Done())

	waited, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, waited.Phase)
}

func TestStartRejectsInvalidJob(t *testing.T) {
	c, _ := newController(t, testutil.NewFakeTransport())
	_, err := c.Start(context.Background(), evalclient.JobSpec{ModelID: "m"})
	require.Error(t, err)
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase)
}

func TestScenarioCompletedRun(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, rec := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"init\",\"total\":3}\n")
	transport.Push("{\"type\":\"progress\",\"index\":1,\"running_metrics\":{\"accuracy\":100}}\n")
	transport.Push("{\"type\":\"summary\",\"metrics\":{\"accuracy\":66.7},\"total_prompts\":3}\n")

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Completed)
	assert.InDelta(t, 66.7, snap.Metrics["accuracy"], 1e-9)
	require.NotNil(t, snap.FinalResult)
	assert.Equal(t, "req-test", snap.RequestID)
	assert.Equal(t, 3, snap.Chunks)
	assert.Empty(t, snap.Job.Credential)
	assert.Equal(t, 1, transport.Closes())

	jobs := transport.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "secret", jobs[0].Credential)

	snaps := rec.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, PhaseRunning, snaps[0].Phase)
	assert.Equal(t, PhaseCompleted, snaps[len(snaps)-1].Phase)
}

func TestScenarioRecordSplitAcrossChunks(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push(`{"type":"progress","in`)
	transport.Push("dex\":2}\n")
	transport.Finish()

	snap := waitDone(t, c)
	require.Len(t, snap.RecentSamples, 1)
	assert.Equal(t, 2, snap.RecentSamples[0].Index)
	assert.Equal(t, 2, snap.Completed)
	assert.Zero(t, snap.Diagnostics.MalformedLines)
}

func TestScenarioCancelBeforeSummary(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"progress\",\"index\":1}\n")
	transport.Push("{\"type\":\"progress\",\"index\":2}\n")
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return c.Snapshot().Completed == 2
	}, "two progress events applied")

	require.NoError(t, c.Cancel())
	assert.Equal(t, PhaseCancelled, c.Snapshot().Phase)
	transport.Push("{\"type\":\"summary\",\"metrics\":{\"accuracy\":1},\"total_prompts\":2}\n")

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.Nil(t, snap.FinalResult)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, 1, transport.Aborts())
	assert.Equal(t, 1, transport.Closes())

	err = c.Cancel()
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, 1, transport.Aborts())
}

func TestScenarioMalformedLineSkipped(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"init\",\"total\":2}\nnot-json\n{\"type\":\"progress\",\"index\":1}\n")
	transport.Finish()

	snap := waitDone(t, c)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Diagnostics.MalformedLines)
}

func TestChunkAppliedAtomically(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, rec := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"progress\",\"index\":1}\n{\"type\":\"progress\",\"index\":2}\n{\"type\":\"progress\",\"index\":3}\n")
	transport.Finish()
	waitDone(t, c)

	for _, snap := range rec.all() {
		assert.Contains(t, []int{0, 3}, snap.Completed)
	}
}

func TestSummaryStopsReading(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"summary\",\"total_prompts\":1}\n{\"type\":\"progress\",\"index\":9}\n")

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, 1, snap.Completed)
	assert.Empty(t, snap.RecentSamples)
	assert.Equal(t, 1, transport.Closes())
}

func TestSummaryWithoutTrailingNewline(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push(`{"type":"summary","total_prompts":4}`)
	transport.Finish()

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, 4, snap.Total)
}

func TestEOFWithoutSummaryFails(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"progress\",\"index\":1}\n")
	transport.Finish()

	snap := waitDone(t, c)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, MessageStreamEnded, snap.LastError)
	assert.Equal(t, 1, transport.Closes())
}

func TestEOFAfterProducerErrorKeepsMessage(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"error\",\"message\":\"model overloaded\"}\n")
	transport.Finish()

	snap := waitDone(t, c)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Equal(t, "stream ended unexpectedly (last error: model overloaded)", snap.LastError)
	assert.Equal(t, 1, snap.Diagnostics.ProducerErrors)
}

func TestOpenFailureFails(t *testing.T) {
	transport := testutil.NewFakeTransport()
	transport.OpenErr = errors.New("evaluation endpoint unexpected status: 503 Service Unavailable: busy")
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)

	snap := waitDone(t, c)
	assert.Equal(t, PhaseFailed, snap.Phase)
	assert.Contains(t, snap.LastError, "503")
	assert.Zero(t, transport.Closes())
}

func TestParentContextCancelledEndsAsCancelled(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Start(ctx, testJob)
	require.NoError(t, err)
	testutil.Closed(t, transport.Opened(), 5*time.Second, "transport never opened")
	cancel()

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, 1, transport.Closes())
}

func TestObserverCancelsOnProducerError(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, rec := newController(t, transport)
	var cancelErr error
	var cancels int
	c.Subscribe(ObserverFunc(func(s Snapshot) {
		if s.Phase == PhaseRunning && s.LastError != "" {
			cancels++
			cancelErr = c.Cancel()
		}
	}))

	_, err := c.Start(context.Background(), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"init\",\"total\":3}\n")
	transport.Push("{\"type\":\"error\",\"message\":\"model overloaded\"}\n")

	snap := waitDone(t, c)
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.Equal(t, 1, cancels)
	require.NoError(t, cancelErr)
	assert.Equal(t, 1, transport.Closes())
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool { return transport.Aborts() == 1 }, "request was not aborted")

	snaps := rec.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, PhaseCancelled, snaps[len(snaps)-1].Phase)
}

func TestObserverCancelsOnStart(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, rec := newController(t, transport)
	c.Subscribe(ObserverFunc(func(s Snapshot) {
		if s.Phase == PhaseRunning {
			_ = c.Cancel()
		}
	}))

	_, err := c.Start(context.Background(), testJob)
	require.NoError(t, err)
	snap := waitDone(t, c)
	assert.Equal(t, PhaseCancelled, snap.Phase)

	phases := make([]Phase, 0, 2)
	for _, s := range rec.all() {
		phases = append(phases, s.Phase)
	}
	assert.Equal(t, []Phase{PhaseRunning, PhaseCancelled}, phases)
}

func TestSampleCapIsClamped(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, err := NewController(Options{Transport: transport, SampleCap: 1000, Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = c.Start(context.Background(), testJob)
	require.NoError(t, err)
	var chunk strings.Builder
	for i := 1; i <= 150; i++ {
		fmt.Fprintf(&chunk, "{\"type\":\"progress\",\"index\":%d}\n", i)
	}
	transport.Push(chunk.String())
	transport.Push("{\"type\":\"summary\",\"total_prompts\":150}\n")

	snap := waitDone(t, c)
	require.Len(t, snap.RecentSamples, 100)
	assert.Equal(t, 51, snap.RecentSamples[0].Index)
	assert.Equal(t, 150, snap.RecentSamples[99].Index)
}

func TestSnapshotOmitsUnsetTimes(t *testing.T) {
	c, _ := newController(t, testutil.NewFakeTransport())
	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "finished_at")

	running, err := json.Marshal(Snapshot{Phase: PhaseRunning, StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)
	assert.Contains(t, string(running), `"started_at":"2026-01-02T03:04:05Z"`)
	assert.NotContains(t, string(running), "finished_at")
}

func TestStartWhileRunningRejected(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	_, err = c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, c.Cancel())
	waitDone(t, c)
}

func TestCancelWhenIdle(t *testing.T) {
	c, _ := newController(t, testutil.NewFakeTransport())
	require.ErrorIs(t, c.Cancel(), ErrNotRunning)
}

func TestTerminalStateIsIdempotent(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, rec := newController(t, transport)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Push("{\"type\":\"summary\",\"total_prompts\":1}\n")
	first := waitDone(t, c)
	count := len(rec.all())

	require.ErrorIs(t, c.Cancel(), ErrNotRunning)
	second := c.Snapshot()
	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
	assert.Len(t, rec.all(), count)
}

func TestRestartAfterTerminalHandsOffSnapshot(t *testing.T) {
	first := testutil.NewFakeTransport()
	second := testutil.NewFakeTransport()
	c, _ := newController(t, &sequence{next: []*testutil.FakeTransport{first, second}})

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	first.Push("{\"type\":\"init\",\"total\":5}\n{\"type\":\"summary\",\"total_prompts\":5,\"job_id\":\"job-1\"}\n")
	done := waitDone(t, c)

	previous, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	assert.Equal(t, done.ID, previous.ID)
	assert.Equal(t, PhaseCompleted, previous.Phase)

	fresh := c.Snapshot()
	assert.NotEqual(t, done.ID, fresh.ID)
	assert.Equal(t, PhaseRunning, fresh.Phase)
	assert.Zero(t, fresh.Total)
	assert.Nil(t, fresh.FinalResult)

	second.Push("{\"type\":\"summary\",\"total_prompts\":2}\n")
	snap := waitDone(t, c)
	assert.Equal(t, 2, snap.Total)
}

func TestSubscribeAfterConstruction(t *testing.T) {
	transport := testutil.NewFakeTransport()
	c, _ := newController(t, transport)
	var phases []Phase
	var mu sync.Mutex
	c.Subscribe(ObserverFunc(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	}))
	c.Subscribe(nil)

	_, err := c.Start(testutil.Context(t, 5*time.Second), testJob)
	require.NoError(t, err)
	transport.Finish()
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseFailed, phases[len(phases)-1])
}

func TestSnapshotFraction(t *testing.T) {
	var snap Snapshot
	assert.Zero(t, snap.Fraction())
	snap.Total = 4
	snap.Completed = 1
	assert.InDelta(t, 0.25, snap.Fraction(), 1e-9)
	snap.Completed = 9
	assert.InDelta(t, 1.0, snap.Fraction(), 1e-9)
}
