// Package progress renders a console progress bar over the work rows of a pass.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/goosewin/cellfill/internal/core"
)

// Reporter turns row updates from the engine into a progress bar. The bar is
// sized on the first update since the work row count is only known once the
// pass starts.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	bar      *progressbar.ProgressBar
	failures int
}

func New(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// OnRow satisfies core.RowCallback.
func (r *Reporter) OnRow(update core.RowUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		r.bar = progressbar.NewOptions(update.Total,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetDescription("filling rows"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	r.failures += update.Failures
	if r.failures > 0 {
		r.bar.Describe(fmt.Sprintf("filling rows (%d failed cells)", r.failures))
	}
	_ = r.bar.Set(update.Index)
}

// Callback returns OnRow as an engine callback.
func (r *Reporter) Callback() core.RowCallback {
	return r.OnRow
}

// Done reports how many rows the bar has advanced over.
func (r *Reporter) Done() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return 0
	}
	return int(r.bar.State().CurrentNum)
}

func (r *Reporter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Finish completes and clears the bar. It is a no-op when no row was reported.
func (r *Reporter) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return nil
	}
	return r.bar.Finish()
}
