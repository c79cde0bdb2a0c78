package progress

import (
	"context"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
)

const renderInterval = 100 * time.Millisecond

// Pretty renders task progress bars on a terminal.
type Pretty struct {
	w progress.Writer
}

func NewPretty(out io.Writer) *Pretty {
	w := progress.NewWriter()
	w.SetOutputWriter(out)
	w.SetAutoStop(false)
	w.SetTrackerLength(30)
	w.SetMessageLength(40)
	w.SetUpdateFrequency(renderInterval)
	w.SetStyle(progress.StyleDefault)
	w.Style().Visibility.ETA = true
	w.Style().Visibility.Percentage = true
	w.Style().Visibility.Value = true

	return &Pretty{w: w}
}

// Run renders until ctx is done.
func (p *Pretty) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		// Stop is a no-op until rendering has started.
		ticker := time.NewTicker(renderInterval)
		defer ticker.Stop()
		for !p.w.IsRenderInProgress() {
			<-ticker.C
		}
		p.w.Stop()
	}()

	p.w.Render()

	return nil
}

func (p *Pretty) AddTask(name string, total int64) Task {
	tracker := &progress.Tracker{ //nolint:exhaustruct
		Message: name,
		Total:   total,
		Units:   progress.UnitsDefault,
	}
	p.w.AppendTracker(tracker)

	t := &prettyTask{counter: counter{}, tracker: tracker}
	t.reset(total)

	return t
}

type prettyTask struct {
	counter
	tracker *progress.Tracker
}

func (t *prettyTask) Advance(n int64) {
	t.advance(n)
	t.tracker.Increment(n)
}

func (t *prettyTask) Reset(total int64) {
	t.reset(total)
	t.tracker.Reset()
	t.tracker.UpdateTotal(total)
}

func (t *prettyTask) Finished() bool {
	return t.finished()
}

func (t *prettyTask) Done() {
	t.tracker.MarkAsDone()
}

func (t *prettyTask) Fail() {
	t.tracker.MarkAsErrored()
}
