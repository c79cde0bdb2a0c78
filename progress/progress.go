package progress

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Sink receives progress of downloads. Tasks are advanced from a single
// goroutine.
type Sink interface {
	AddTask(name string, total int64) Task
}

// Task counts completed units of one download or list.
type Task interface {
	// Advance adds n completed units.
	Advance(n int64)
	// Reset starts the task over with a new total. A total of zero means the
	// size is unknown.
	Reset(total int64)
	// Finished reports whether the completed units reached a known total.
	Finished() bool
	// Done marks the task as complete regardless of its counters.
	Done()
	// Fail marks the task as errored.
	Fail()
}

// Display is a Sink that needs to be running for its output to show.
type Display interface {
	Sink
	Run(ctx context.Context) error
}

// New returns a terminal progress display when f is a terminal, and a display
// reporting progress through logger otherwise.
func New(f *os.File, logger zerolog.Logger) Display {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewPretty(f)
	}

	return NewLog(logger)
}

type counter struct {
	total     atomic.Int64
	completed atomic.Int64
}

func (c *counter) advance(n int64) int64 {
	return c.completed.Add(n)
}

func (c *counter) reset(total int64) {
	c.total.Store(total)
	c.completed.Store(0)
}

func (c *counter) finished() bool {
	total := c.total.Load()
	return total > 0 && c.completed.Load() >= total
}

// Discard is a Sink that only counts.
type Discard struct{}

func (Discard) AddTask(_ string, total int64) Task {
	t := &discardTask{counter: counter{}}
	t.reset(total)

	return t
}

type discardTask struct {
	counter
}

func (t *discardTask) Advance(n int64)   { t.advance(n) }
func (t *discardTask) Reset(total int64) { t.reset(total) }
func (t *discardTask) Finished() bool    { return t.finished() }
func (t *discardTask) Done()             {}
func (t *discardTask) Fail()             {}
