package projectionstatus

import (
	"context"
	"sync"

	"evtcore.dev/common"
)

// Scheduler fans RecoverStuckRebuilds out across a fixed set of
// projection names with a bounded worker pool, the way the teacher's
// generic queue worker pool spreads job processing across goroutines,
// adapted here to a one-shot fan-out over a known projection list rather
// than an unbounded external queue.
type Scheduler struct {
	coord       Coordinator
	projections []string
	concurrency int
	log         *common.ContextLogger
}

// NewScheduler returns a Scheduler driving coord's RecoverStuckRebuilds
// across projections, concurrency workers at a time. concurrency <= 0
// is treated as 1.
func NewScheduler(coord Coordinator, projections []string, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		coord:       coord,
		projections: projections,
		concurrency: concurrency,
		log:         common.NewContextLogger(common.Logger, map[string]interface{}{"component": "projectionstatus.Scheduler"}),
	}
}

// Result is one projection's recovery outcome.
type Result struct {
	Projection string
	Recovered  int
	Err        error
}

// Run drives RecoverStuckRebuilds for every configured projection,
// concurrency workers at a time, and returns once all projections have
// been visited or ctx is cancelled. It is meant to be invoked by an
// external trigger (cron, manual operator action); the scheduler itself
// holds no ticker or goroutine once Run returns.
func (s *Scheduler) Run(ctx context.Context) []Result {
	jobs := make(chan string)
	results := make([]Result, len(s.projections))
	resultIndex := make(map[string]int, len(s.projections))
	for i, p := range s.projections {
		resultIndex[p] = i
		results[i] = Result{Projection: p}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for projection := range jobs {
				recovered, err := s.coord.RecoverStuckRebuilds(ctx, projection)
				if err != nil {
					s.log.WithField("projection", projection).WithField("error", err).Warn("recover stuck rebuilds failed")
				}
				mu.Lock()
				results[resultIndex[projection]] = Result{Projection: projection, Recovered: recovered, Err: err}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, p := range s.projections {
		select {
		case jobs <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
