package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type Progress struct {
	progress *mpb.Progress
	mu       sync.Mutex
}

func New() *Progress {
	return &Progress{
		progress: mpb.New(),
	}
}

// NewWithOutput renders to w instead of stdout.
func NewWithOutput(w io.Writer) *Progress {
	return &Progress{
		progress: mpb.New(mpb.WithOutput(w)),
	}
}

// Bar tracks one transfer. Add is safe to pass as a chunk callback.
type Bar struct {
	bar *mpb.Bar
}

func (p *Progress) NewBar(n int64, text string) *Bar {
	p.mu.Lock()
	defer p.mu.Unlock()

	// mpb treats a zero total as unknown; an empty file is still one step.
	if n <= 0 {
		n = 1
	}

	bar := p.progress.AddBar(n,
		mpb.PrependDecorators(
			decor.Name(text, decor.WC{W: 12, C: decor.DindentRight}),
			decor.CountersKibiByte(" % .2f / % .2f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnAbort(decor.Elapsed(1, decor.WC{W: 12, C: decor.DindentRight}), "aborted"),
		),
	)

	return &Bar{bar: bar}
}

func (b *Bar) Add(n int) {
	b.bar.IncrBy(n)
}

// Done fills the bar, used when the last chunk was empty.
func (b *Bar) Done() {
	b.bar.SetTotal(-1, true)
}

func (b *Bar) Abort() {
	b.bar.Abort(false)
}

func (b *Bar) Completed() bool {
	return b.bar.Completed()
}

func (b *Bar) Current() int64 {
	return b.bar.Current()
}

func (p *Progress) Wait() {
	p.progress.Wait()
}
