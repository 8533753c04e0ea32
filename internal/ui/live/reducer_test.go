package live

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"evalstream/internal/evalclient"
	"evalstream/internal/evalevent"
	"evalstream/internal/progress"
	"evalstream/internal/session"
)

// TestReduceCountsVerdictsOnce verifies samples are tallied once across snapshots.
func TestReduceCountsVerdictsOnce(t *testing.T) {
	state := State{}
	snap := snapshot("s1", session.PhaseRunning,
		progress.Sample{Index: 1, IsCorrect: true, IncludedInMetrics: true},
		progress.Sample{Index: 2, IncludedInMetrics: true},
	)
	state = Reduce(state, snap)
	snap.RecentSamples = append(snap.RecentSamples, progress.Sample{Index: 3, Skipped: true})
	state = Reduce(state, snap)

	want := VerdictCounts{Correct: 1, Incorrect: 1, Skipped: 1}
	if state.Counts != want {
		t.Fatalf("expected %+v, got %+v", want, state.Counts)
	}
	if state.LastSeen != 3 {
		t.Fatalf("expected last seen 3, got %d", state.LastSeen)
	}
}

// TestReduceResetsOnNewSession verifies a new session id clears counts.
func TestReduceResetsOnNewSession(t *testing.T) {
	state := Reduce(State{}, snapshot("s1", session.PhaseCompleted, progress.Sample{Index: 1, IsCorrect: true}))
	state = Reduce(state, snapshot("s2", session.PhaseRunning))
	if state.Counts != (VerdictCounts{}) {
		t.Fatalf("expected counts reset, got %+v", state.Counts)
	}
	if state.LastEvent != "Session started" {
		t.Fatalf("unexpected last event %q", state.LastEvent)
	}
}

// TestReduceLastEvent verifies notable changes are described.
func TestReduceLastEvent(t *testing.T) {
	snap := snapshot("s1", session.PhaseRunning)
	state := Reduce(State{}, snap)

	snap.Diagnostics.MalformedLines = 2
	state = Reduce(state, snap)
	if state.LastEvent != "Skipped 2 malformed line(s)" {
		t.Fatalf("unexpected malformed event %q", state.LastEvent)
	}

	snap.LastError = "model overloaded"
	state = Reduce(state, snap)
	if state.LastEvent != "Error: model overloaded" {
		t.Fatalf("unexpected error event %q", state.LastEvent)
	}

	snap.Phase = session.PhaseFailed
	state = Reduce(state, snap)
	if state.LastEvent != "Session failed" {
		t.Fatalf("unexpected phase event %q", state.LastEvent)
	}
}

// TestCancelKeyInvokesHookOnce verifies q cancels first and quits after.
func TestCancelKeyInvokesHookOnce(t *testing.T) {
	calls := 0
	model := NewModel(nil, Options{NoColor: true, OnCancel: func() { calls++ }})
	updated, _ := model.Update(SnapshotMsg{Snapshot: snapshot("s1", session.PhaseRunning)})

	updated, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if calls != 1 {
		t.Fatalf("expected one cancel call, got %d", calls)
	}
	if cmd != nil {
		t.Fatalf("expected the UI to keep running after cancel")
	}

	_, cmd = updated.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Fatalf("expected cancel hook not to be called again, got %d", calls)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

// TestQuitAfterTerminal verifies q quits without cancelling a finished session.
func TestQuitAfterTerminal(t *testing.T) {
	calls := 0
	model := NewModel(nil, Options{NoColor: true, OnCancel: func() { calls++ }})
	updated, _ := model.Update(SnapshotMsg{Snapshot: snapshot("s1", session.PhaseCompleted)})
	_, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if calls != 0 {
		t.Fatalf("expected no cancel call, got %d", calls)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

// TestViewShowsProgressAndFinal verifies the rendered view content.
func TestViewShowsProgressAndFinal(t *testing.T) {
	snap := snapshot("s1", session.PhaseCompleted,
		progress.Sample{Index: 1, Prompt: "What is 2+2?", ExpectedAnswer: "4", ModelResponse: "4", IsCorrect: true, IncludedInMetrics: true},
	)
	snap.Total = 3
	snap.Completed = 3
	snap.Metrics = map[string]float64{"accuracy": 66.7, "f1": 0.5}
	snap.FinalResult = &evalevent.Summary{JobID: "job-9", Metrics: map[string]float64{"accuracy": 66.7}}

	model := NewModel(nil, Options{NoColor: true})
	updated, _ := model.Update(SnapshotMsg{Snapshot: snap})
	view := updated.View()
	for _, want := range []string{"gsm8k / gpt-test", "completed", "3/3", "accuracy=66.7  f1=0.5", "What is 2+2?", "correct", "job job-9", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

// TestSnapshotChannelCloseQuits verifies the model exits when the stream of snapshots ends.
func TestSnapshotChannelCloseQuits(t *testing.T) {
	ch := make(chan session.Snapshot)
	close(ch)
	msg := waitForSnapshot(ch)()
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message, got %T", msg)
	}
}

// TestDeliverLatestKeepsNewest verifies a full buffer keeps the newest snapshot.
func TestDeliverLatestKeepsNewest(t *testing.T) {
	ch := make(chan session.Snapshot, 1)
	deliverLatest(ch, snapshot("s1", session.PhaseRunning))
	deliverLatest(ch, snapshot("s1", session.PhaseCompleted))
	got := <-ch
	if got.Phase != session.PhaseCompleted {
		t.Fatalf("expected newest snapshot, got %s", got.Phase)
	}
}

// TestRowsNewestFirst verifies table ordering and truncation.
func TestRowsNewestFirst(t *testing.T) {
	state := State{Samples: []progress.Sample{
		{Index: 1, Prompt: strings.Repeat("x", 200)},
		{Index: 2, Prompt: "short"},
	}}
	columns := columnsForWidth(80)
	rows := rowsForState(state, columns, true)
	if rows[0][0] != "#2" || rows[1][0] != "#1" {
		t.Fatalf("expected newest first, got %v", rows)
	}
	if len(rows[1][1]) != columns[1].Width {
		t.Fatalf("expected truncated prompt of width %d, got %d", columns[1].Width, len(rows[1][1]))
	}
}

// TestFormatElapsedUsesFinish verifies finished sessions stop the clock.
func TestFormatElapsedUsesFinish(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := State{StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)}
	if got := formatElapsed(state, start.Add(time.Hour)); got != "1.5s" {
		t.Fatalf("expected 1.5s, got %q", got)
	}
}

// snapshot builds a session snapshot for testing.
func snapshot(id string, phase session.Phase, samples ...progress.Sample) session.Snapshot {
	return session.Snapshot{
		ID:    id,
		Phase: phase,
		Job:   evalclient.JobSpec{DatasetID: "gsm8k", ModelID: "gpt-test"},
		State: progress.State{
			Metrics:       map[string]float64{},
			RecentSamples: samples,
		},
	}
}
