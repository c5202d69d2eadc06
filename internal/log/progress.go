package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchProgress tracks a batch of candidate evaluations. On a terminal it redraws a progress
// bar with ETA; elsewhere only the final summary is logged.
type BatchProgress struct {
	mu          sync.Mutex
	name        string
	total       int
	current     int
	allowed     int
	startTime   time.Time
	out         io.Writer
	interactive bool
}

// NewBatchProgress creates a tracker writing its bar to out
func NewBatchProgress(name string, total int, out io.Writer) *BatchProgress {
	return &BatchProgress{
		name:        name,
		total:       total,
		startTime:   time.Now(),
		out:         out,
		interactive: out != nil && IsTerminal(out),
	}
}

// Done records one finished candidate
func (p *BatchProgress) Done(code string, allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if allowed {
		p.allowed++
	}
	log.Debug().Str("code", code).Bool("allowed", allowed).Int("done", p.current).Int("total", p.total).Msg("Candidate evaluated")
	if p.interactive {
		fmt.Fprint(p.out, p.render(code))
	}
}

// Counts returns finished and allowed candidates so far
func (p *BatchProgress) Counts() (done, allowed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.allowed
}

// Finish logs the summary and clears the bar
func (p *BatchProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive {
		fmt.Fprint(p.out, "\r\033[K")
	}
	log.Info().
		Str("batch", p.name).
		Int("evaluated", p.current).
		Int("allowed", p.allowed).
		Dur("duration", time.Since(p.startTime).Round(time.Millisecond)).
		Msg("Batch completed")
}

func (p *BatchProgress) render(code string) string {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(p.name)

	if p.total > 0 {
		const width = 20
		filled := width * p.current / p.total
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", width-filled))
		fmt.Fprintf(&b, "] %d/%d", p.current, p.total)

		if elapsed := time.Since(p.startTime); p.current > 0 && p.current < p.total {
			perItem := elapsed / time.Duration(p.current)
			eta := perItem * time.Duration(p.total-p.current)
			fmt.Fprintf(&b, " ETA: %v", eta.Round(time.Second))
		}
	}
	if code != "" {
		b.WriteString(" - ")
		b.WriteString(code)
	}
	return b.String()
}
