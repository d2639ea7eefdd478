package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RunReport aggregates the outcomes of one orchestrator run.
type RunReport struct {
	Outcomes []SyncOutcome

	TotalMatched   int
	TotalUnmatched int
	Created        int
	Updated        int
	Replaced       int
	Skipped        int
	Failed         int

	// UnavailablePlaylists lists source playlist IDs that resolved to
	// not-found, deduplicated, in input order.
	UnavailablePlaylists []string
}

// Success reports whether every job finished without failing outright.
// Partial successes count as success for exit-code purposes.
func (r *RunReport) Success() bool {
	return r.Failed == 0
}

// Orchestrator fans sync requests out over a bounded worker pool and
// collects the outcomes into a run report.
type Orchestrator struct {
	logger      *zap.Logger
	runner      *JobRunner
	unavailable UnavailableTracker
	parallelism int
}

func NewOrchestrator(logger *zap.Logger, runner *JobRunner, unavailable UnavailableTracker, parallelism int) *Orchestrator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Orchestrator{
		logger:      logger.Named("orchestrator"),
		runner:      runner,
		unavailable: unavailable,
		parallelism: parallelism,
	}
}

type dispatched struct {
	index   int
	request SyncRequest
}

type collected struct {
	index   int
	outcome SyncOutcome
}

// Run processes every request on a pool of workers. Jobs are independent;
// one job's failure never aborts its siblings. Report outcomes are ordered
// by input position regardless of completion order.
func (o *Orchestrator) Run(ctx context.Context, requests []SyncRequest) *RunReport {
	o.logger.Info("Starting sync run",
		zap.Int("playlists", len(requests)),
		zap.Int("parallelism", o.parallelism))

	jobs := make(chan dispatched)
	outcomes := make(chan collected)

	var wg sync.WaitGroup
	for i := 0; i < o.parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				outcomes <- collected{
					index:   d.index,
					outcome: o.runner.Run(ctx, d.request),
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, request := range requests {
			select {
			case jobs <- dispatched{index: i, request: request}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	ordered := make([]SyncOutcome, len(requests))
	seen := make([]bool, len(requests))
	for c := range outcomes {
		ordered[c.index] = c.outcome
		seen[c.index] = true
	}

	report := &RunReport{}
	for i, outcome := range ordered {
		if !seen[i] {
			continue // run cancelled before dispatch
		}
		report.Outcomes = append(report.Outcomes, outcome)
		report.TotalMatched += outcome.TracksMatched
		report.TotalUnmatched += outcome.TracksUnmatched

		switch outcome.Action {
		case ActionCreated:
			report.Created++
		case ActionUpdated:
			report.Updated++
		case ActionReplaced:
			report.Replaced++
		case ActionSkipped:
			report.Skipped++
		case ActionFailed:
			report.Failed++
		}
	}

	report.UnavailablePlaylists = o.unavailableIDs(requests)

	o.logger.Info("Sync run finished",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("replaced", report.Replaced),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("matched", report.TotalMatched),
		zap.Int("unmatched", report.TotalUnmatched),
		zap.Int("unavailable", len(report.UnavailablePlaylists)))

	return report
}

// unavailableIDs returns the requested playlist IDs the tracker marked as
// not-found, deduplicated, in input order.
func (o *Orchestrator) unavailableIDs(requests []SyncRequest) []string {
	if o.unavailable == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(requests))
	var ids []string
	for _, request := range requests {
		if _, dup := seen[request.PlaylistID]; dup {
			continue
		}
		seen[request.PlaylistID] = struct{}{}
		if o.unavailable.Has(request.PlaylistID) {
			ids = append(ids, request.PlaylistID)
		}
	}
	return ids
}
