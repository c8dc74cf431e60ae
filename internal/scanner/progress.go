package scanner

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// BarReporter renders detection progress as a terminal progress bar.
type BarReporter struct {
	w           io.Writer
	description string

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarReporter writes a bar labelled description to w.
func NewBarReporter(w io.Writer, description string) *BarReporter {
	return &BarReporter{w: w, description: description}
}

// Start creates the bar for total files.
func (b *BarReporter) Start(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(b.description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("img"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Advance moves the bar one file forward.
func (b *BarReporter) Advance() {
	b.mu.Lock()
	bar := b.bar
	b.mu.Unlock()
	if bar != nil {
		_ = bar.Add(1)
	}
}

// Finish completes and clears the bar.
func (b *BarReporter) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
	}
}
