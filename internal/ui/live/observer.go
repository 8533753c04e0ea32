package live

import (
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"evalstream/internal/session"
)

// Controller runs the live UI and implements session.Observer.
type Controller struct {
	mu        sync.Mutex
	closed    bool
	snapshots chan session.Snapshot
	program   *tea.Program
	done      chan struct{}
	err       error
}

// Start launches a live UI controller that writes to stdout.
func Start(stdout io.Writer, opts Options) *Controller {
	if stdout == nil {
		stdout = os.Stdout
	}
	snapshots := make(chan session.Snapshot, 64)
	model := NewModel(snapshots, opts)
	programOpts := []tea.ProgramOption{tea.WithOutput(stdout), tea.WithAltScreen()}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	controller := &Controller{
		snapshots: snapshots,
		program:   tea.NewProgram(model, programOpts...),
		done:      make(chan struct{}),
	}
	go func() {
		_, err := controller.program.Run()
		controller.err = err
		close(controller.done)
	}()
	return controller
}

// OnSnapshot forwards a snapshot without blocking the session pump.
// When the buffer is full the oldest pending snapshot is replaced.
func (c *Controller) OnSnapshot(snap session.Snapshot) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	deliverLatest(c.snapshots, snap)
}

// deliverLatest sends snap, evicting one queued value if the channel is full.
func deliverLatest(ch chan session.Snapshot, snap session.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Close signals the UI to stop once queued snapshots are drawn.
func (c *Controller) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.snapshots)
}

// Wait blocks until the UI has exited and returns the program error, if any.
func (c *Controller) Wait() error {
	if c == nil {
		return nil
	}
	<-c.done
	return c.err
}

// Done is closed when the UI exits, including when the user quits it.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}
