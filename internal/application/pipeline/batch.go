package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/gates"
	applog "github.com/sawpanic/signalgate/internal/log"
)

// EvaluateBatch evaluates codes with market data fetched from the providers
func (o *Orchestrator) EvaluateBatch(ctx context.Context, codes []string) []EvaluationResult {
	candidates := make([]gates.Candidate, len(codes))
	for i, code := range codes {
		candidates[i] = gates.Candidate{Code: code, Market: o.marketOf(code)}
	}
	return o.EvaluateCandidates(ctx, candidates)
}

// EvaluateCandidates fans candidates out over the configured worker count. Results keep the
// input order. When pipeline.top_n is set, only the strongest candidates by relative strength
// are evaluated; the rest are rejected at UNIVERSE. Candidates not started before ctx is done
// are rejected as cancelled.
func (o *Orchestrator) EvaluateCandidates(ctx context.Context, candidates []gates.Candidate) []EvaluationResult {
	cfg := o.configs.Current()
	candidates = append([]gates.Candidate(nil), candidates...)
	results := make([]EvaluationResult, len(candidates))
	pending := o.screen(ctx, cfg, candidates, results)

	progress := applog.NewBatchProgress("evaluate", len(candidates), o.progress)
	for i := range results {
		if results[i].ID != uuid.Nil {
			progress.Done(results[i].Code, false)
		}
	}

	workers := cfg.Pipeline.Workers
	if workers > len(pending) {
		workers = len(pending)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.Evaluate(ctx, candidates[i])
				progress.Done(results[i].Code, results[i].Allowed)
			}
		}()
	}

feed:
	for _, i := range pending {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for _, i := range pending {
		if results[i].ID == uuid.Nil {
			results[i] = o.rejected(candidates[i], gates.StageSystem, fmt.Sprintf("evaluation cancelled: %v", ctx.Err()))
		}
	}
	progress.Finish()
	return results
}

// screen ranks candidates by relative strength when top_n is set. Candidates outside the top
// get their result written to results; the indices still to evaluate are returned.
func (o *Orchestrator) screen(ctx context.Context, cfg *config.Config, candidates []gates.Candidate, results []EvaluationResult) []int {
	all := make([]int, len(candidates))
	for i := range all {
		all[i] = i
	}
	topN := cfg.Pipeline.TopN
	if topN <= 0 || len(candidates) <= topN {
		return all
	}

	ptrs := make([]*gates.Candidate, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if len(c.Bars) == 0 {
			series, err := o.fetchBars(ctx, c.Code, cfg.Pipeline.BarLookback)
			if err == nil {
				c.Bars = series
			}
		}
		ptrs[i] = c
	}

	ranked := gates.NewUniverseFilter(cfg.Universe).Rank(ptrs, o.indexBars(ctx, cfg), 0)
	keep := make(map[string]bool, topN)
	for i, r := range ranked {
		keep[r.Code] = i < topN
	}

	pending := make([]int, 0, topN)
	for i, c := range candidates {
		top, rankable := keep[c.Code]
		if rankable && !top {
			results[i] = o.rejected(c, gates.StageUniverse, fmt.Sprintf("outside top %d by relative strength", topN))
			continue
		}
		pending = append(pending, i)
	}
	return pending
}

// rejected builds a result for a candidate that never entered the chain
func (o *Orchestrator) rejected(c gates.Candidate, stage gates.Stage, reason string) EvaluationResult {
	state := o.regimes.Current()
	res := EvaluationResult{
		ID:            uuid.New(),
		Code:          c.Code,
		Stages:        map[gates.Stage]gates.FilterResult{},
		Regime:        state.Regime,
		WeightVersion: state.Version,
		EvaluatedAt:   o.now(),
	}
	res.reject(stage, reason)
	return o.finish(res, time.Now())
}
