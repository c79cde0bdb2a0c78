package progress

import (
	"context"

	"github.com/rs/zerolog"
)

// Log reports task progress as log events, every tenth of a task's total.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *Log) AddTask(name string, total int64) Task {
	t := &logTask{
		counter: counter{},
		logger:  l.logger.With().Str("task", name).Logger(),
		step:    0,
		next:    0,
	}
	t.Reset(total)

	return t
}

type logTask struct {
	counter
	logger zerolog.Logger
	step   int64
	next   int64
}

func (t *logTask) Advance(n int64) {
	completed := t.advance(n)
	if t.step > 0 && completed >= t.next {
		t.logger.Debug().Int64("completed", completed).Int64("total", t.total.Load()).Msg("Progress")
		t.next = (completed/t.step + 1) * t.step
	}
}

func (t *logTask) Reset(total int64) {
	t.reset(total)
	t.step = max(total/10, 1)
	if total <= 0 {
		t.step = 0
	}
	t.next = t.step
	t.logger.Debug().Int64("total", total).Msg("Task started")
}

func (t *logTask) Finished() bool {
	return t.finished()
}

func (t *logTask) Done() {
	t.logger.Debug().Int64("completed", t.completed.Load()).Msg("Task done")
}

func (t *logTask) Fail() {
	t.logger.Debug().Int64("completed", t.completed.Load()).Msg("Task failed")
}
