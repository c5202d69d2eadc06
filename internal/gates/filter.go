package gates

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/regime"
)

// Candidate is everything the chain knows about one instrument for one evaluation. Bars are
// owned by the caller and only read.
type Candidate struct {
	Code         string
	Market       string
	Bars         []bars.Bar
	IndexBars    []bars.Bar
	CurrentPrice float64
	Now          time.Time
	Regime       regime.State
}

// Filter is one stage of the chain
type Filter interface {
	Name() Stage
	Check(ctx context.Context, c *Candidate) FilterResult
}

// SafeCheck runs f and converts a panic into a rejection so one malformed candidate never
// escapes its own evaluation
func SafeCheck(ctx context.Context, f Filter, c *Candidate) (result FilterResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("code", c.Code).
				Str("stage", string(f.Name())).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Stage panicked, rejecting candidate")
			result = Fail(fmt.Sprintf("%s computation error: %v", f.Name(), r))
		}
	}()
	return f.Check(ctx, c)
}
