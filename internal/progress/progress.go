// Package progress renders per-phase console progress for a sync run.
package progress

import (
	"io"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
)

// Phase tracks the completed items of one pipeline phase.
type Phase interface {
	Increment()
	Done()
}

// Tracker creates a Phase for each stage of the pipeline.
type Tracker interface {
	Start(name string, total int) Phase
}

// Bars draws one progress bar per phase on w.
type Bars struct {
	w io.Writer
}

// NewBars returns a Tracker writing to w, usually stderr.
func NewBars(w io.Writer) *Bars {
	return &Bars{w: w}
}

func (b *Bars) Start(name string, total int) Phase {
	if total <= 0 {
		return noopPhase{}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(b.w, "\n")
		}),
	)
	return &barPhase{bar: bar, total: int64(total)}
}

type barPhase struct {
	bar   *progressbar.ProgressBar
	total int64
	done  atomic.Int64
}

func (p *barPhase) Increment() {
	p.done.Add(1)
	_ = p.bar.Add(1)
}

// Done fills the bar only when every item completed. An aborted phase keeps
// its last count.
func (p *barPhase) Done() {
	if p.done.Load() >= p.total {
		_ = p.bar.Finish()
		return
	}
	_ = p.bar.Exit()
}

// Noop is a Tracker that draws nothing.
type Noop struct{}

func (Noop) Start(string, int) Phase { return noopPhase{} }

type noopPhase struct{}

func (noopPhase) Increment() {}
func (noopPhase) Done()      {}
