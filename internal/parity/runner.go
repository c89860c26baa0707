package parity

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Runner executes whole suites on a bounded worker pool. Cases are independent: each reseeds its
// own generator and opens its own backend sessions, so they may run in any order.
type Runner struct {
	h   *Harness
	sem *semaphore.Weighted
}

func NewRunner(h *Harness) *Runner {
	return &Runner{h: h, sem: semaphore.NewWeighted(int64(h.cfg.Parallelism))}
}

func (r *Runner) Harness() *Harness { return r.h }

// RunSuite runs every case of s and returns results in enumeration order. A failing case never
// stops the others unless FailFast is set, in which case cases not yet started are skipped.
func (r *Runner) RunSuite(ctx context.Context, s *Suite) SuiteReport {
	rep := SuiteReport{Suite: s.Name, Description: s.Description}
	if err := s.Validate(); err != nil {
		rep.Err = err.Error()
		return rep
	}
	cases := Cases(s.Matrix)
	results := make([]ComparisonResult, len(cases))
	started := make([]bool, len(cases))

	var (
		g    errgroup.Group
		stop atomic.Bool
	)
	for i, c := range cases {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		// a failure is recorded before its slot is released, so this sees it
		if stop.Load() {
			r.sem.Release(1)
			break
		}
		started[i] = true
		g.Go(func() error {
			defer r.sem.Release(1)
			res := r.h.RunCase(ctx, s, c)
			results[i] = res
			if r.h.cfg.FailFast && !res.Passed() {
				stop.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range started {
		if ok {
			rep.Results = append(rep.Results, results[i])
		}
	}
	rep.Skipped = len(cases) - len(rep.Results)
	return rep
}

// Run executes suites one after another and collects a report.
func (r *Runner) Run(ctx context.Context, suites []*Suite) *Report {
	cfg := r.h.Config()
	rep := &Report{
		Reference: cfg.Reference,
		Target:    cfg.Target,
		Seed:      cfg.Seed,
		Started:   time.Now(),
	}
	for _, s := range suites {
		if ctx.Err() != nil {
			break
		}
		rep.Suites = append(rep.Suites, r.RunSuite(ctx, s))
	}
	rep.Duration = time.Since(rep.Started)
	return rep
}
