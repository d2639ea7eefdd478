package core

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobState tracks the phase of one sync job. Transitions are strictly
// forward: Pending -> Fetching -> Matching -> Diffing -> Applying ->
// terminal.
type JobState int

const (
	JobStatePending JobState = iota
	JobStateFetching
	JobStateMatching
	JobStateDiffing
	JobStateApplying
	JobStateSucceeded
	JobStatePartiallySucceeded
	JobStateFailed
)

func (s JobState) String() string {
	switch s {
	case JobStateFetching:
		return "fetching"
	case JobStateMatching:
		return "matching"
	case JobStateDiffing:
		return "diffing"
	case JobStateApplying:
		return "applying"
	case JobStateSucceeded:
		return "succeeded"
	case JobStatePartiallySucceeded:
		return "partially_succeeded"
	case JobStateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Cache key prefixes, namespaced per operation kind so Clear(prefix) can
// invalidate one catalog's entries without touching the others.
const (
	cacheKeySourceTracks = "spotify:tracks:"
	cacheKeySourceTitle  = "spotify:title:"
	cacheKeySearch       = "plex:search:"
	cacheKeyMatch        = "match:"
)

// JobRunner executes sync jobs. One runner is shared by all workers; the
// per-job state lives on the stack of Run.
type JobRunner struct {
	logger      *zap.Logger
	source      SourceCatalog
	target      TargetCatalog
	cache       Cache
	matcher     *Matcher
	retryer     *Retryer
	locks       *KeyLock
	metrics     Metrics
	unavailable UnavailableTracker

	mode             SyncMode
	matchParallelism int
	cacheTTL         time.Duration
}

func NewJobRunner(
	logger *zap.Logger,
	source SourceCatalog,
	target TargetCatalog,
	cache Cache,
	matcher *Matcher,
	retryer *Retryer,
	metrics Metrics,
	unavailable UnavailableTracker,
	cfg Config,
) *JobRunner {
	return &JobRunner{
		logger:           logger.Named("job"),
		source:           source,
		target:           target,
		cache:            cache,
		matcher:          matcher,
		retryer:          retryer,
		locks:            NewKeyLock(),
		metrics:          metrics,
		unavailable:      unavailable,
		mode:             cfg.Sync.Mode(),
		matchParallelism: cfg.Sync.MatchParallelism,
		cacheTTL:         cfg.Cache.TTL,
	}
}

type job struct {
	runner  *JobRunner
	logger  *zap.Logger
	request SyncRequest
	state   JobState
	outcome SyncOutcome
}

// Run reconciles one (source playlist, target user) pair and always
// returns an outcome; errors are folded into it rather than propagated.
func (r *JobRunner) Run(ctx context.Context, request SyncRequest) SyncOutcome {
	started := time.Now()

	j := &job{
		runner: r,
		logger: r.logger.With(
			zap.String("playlistID", request.PlaylistID),
			zap.String("user", request.TargetUser)),
		request: request,
		outcome: SyncOutcome{
			PlaylistSourceID: request.PlaylistID,
			TargetUser:       request.TargetUser,
			Action:           ActionFailed,
		},
	}

	j.run(ctx)

	if r.metrics != nil {
		r.metrics.JobCompleted(j.outcome.Action, time.Since(started))
		r.metrics.TracksMatched(j.outcome.TracksMatched, j.outcome.TracksUnmatched)
	}

	j.logger.Info("Job finished",
		zap.String("state", j.state.String()),
		zap.String("action", j.outcome.Action.String()),
		zap.Int("matched", j.outcome.TracksMatched),
		zap.Int("unmatched", j.outcome.TracksUnmatched))

	return j.outcome
}

func (j *job) run(ctx context.Context) {
	title, tracks, ok := j.fetch(ctx)
	if !ok {
		j.state = JobStateFailed
		return
	}
	j.outcome.PlaylistTitle = title
	j.outcome.TracksRequested = len(tracks)

	if len(tracks) == 0 {
		j.logger.Info("Source playlist is empty, skipping")
		j.outcome.Action = ActionSkipped
		j.state = JobStateSucceeded
		return
	}

	desired := j.match(ctx, tracks)
	j.outcome.TracksMatched = len(desired)
	j.outcome.TracksUnmatched = len(tracks) - len(desired)

	if len(desired) == 0 {
		j.logger.Warn("No tracks matched, playlist left untouched")
		j.recordError("matching", "", "no source track matched the target library")
		j.state = JobStateFailed
		return
	}

	plan := PlaylistSpec{
		SourceID:        j.request.PlaylistID,
		TargetUser:      j.request.TargetUser,
		Title:           title,
		DesiredTrackIDs: desired,
	}
	if !j.apply(ctx, plan) {
		j.state = JobStateFailed
		j.outcome.Action = ActionFailed
		return
	}

	if j.outcome.TracksUnmatched > 0 {
		j.state = JobStatePartiallySucceeded
	} else {
		j.state = JobStateSucceeded
	}
}

// fetch loads the source playlist title and tracks, cache-checked by
// playlist ID. A not-found source playlist is terminal and recorded in the
// unavailable tracker.
func (j *job) fetch(ctx context.Context) (string, []TrackDescriptor, bool) {
	j.state = JobStateFetching

	var tracks []TrackDescriptor
	hit := j.cachedJSON(cacheKeySourceTracks+j.request.PlaylistID, &tracks)
	j.lookupMetric("source_tracks", hit)
	if !hit {
		err := j.runner.retryer.Do(ctx, "source.ListPlaylistTracks", func(ctx context.Context) error {
			var err error
			tracks, err = j.runner.source.ListPlaylistTracks(ctx, j.request.PlaylistID)
			return err
		})
		if err != nil {
			j.failFetch(err)
			return "", nil, false
		}
		j.storeJSON(cacheKeySourceTracks+j.request.PlaylistID, tracks)
	}

	var title string
	hit = j.cachedJSON(cacheKeySourceTitle+j.request.PlaylistID, &title)
	j.lookupMetric("source_title", hit)
	if !hit {
		err := j.runner.retryer.Do(ctx, "source.GetPlaylistTitle", func(ctx context.Context) error {
			var err error
			title, err = j.runner.source.GetPlaylistTitle(ctx, j.request.PlaylistID)
			return err
		})
		if err != nil {
			j.failFetch(err)
			return "", nil, false
		}
		j.storeJSON(cacheKeySourceTitle+j.request.PlaylistID, title)
	}

	return title, tracks, true
}

func (j *job) failFetch(err error) {
	if IsNotFound(err) {
		j.logger.Warn("Source playlist not found", zap.Error(err))
		if j.runner.unavailable != nil {
			j.runner.unavailable.Mark(j.request.PlaylistID)
		}
		j.recordError("fetching", "", "source playlist not found")
		return
	}
	j.logger.Error("Failed to fetch source playlist", zap.Error(err))
	j.recordError("fetching", "", err.Error())
}

// match resolves every track to a target library ID, in source order.
// Tracks resolve independently; a failed track is excluded, never fatal.
func (j *job) match(ctx context.Context, tracks []TrackDescriptor) []string {
	j.state = JobStateMatching

	results := make([]MatchResult, len(tracks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.runner.matchParallelism)
	for i, track := range tracks {
		g.Go(func() error {
			results[i] = j.matchOne(gctx, track)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	desired := make([]string, 0, len(tracks))
	for _, result := range results {
		if result.Outcome == MatchOutcomeMatched {
			desired = append(desired, result.MatchedID)
		}
	}
	return desired
}

func (j *job) matchOne(ctx context.Context, track TrackDescriptor) MatchResult {
	key := cacheKeyMatch + j.runner.matcher.TrackFingerprint(track)

	var cached MatchResult
	hit := j.cachedJSON(key, &cached)
	j.lookupMetric("match", hit)
	if hit {
		return cached
	}

	candidates, err := j.searchCandidates(ctx, track)
	if err != nil {
		j.logger.Warn("Library search failed",
			zap.String("title", track.Title),
			zap.Error(err))
		j.recordError("matching", track.SourceID, err.Error())
		// Not cached: a transient search failure must not poison
		// future runs.
		return MatchResult{Input: track, Outcome: MatchOutcomeNotFound}
	}

	result := j.runner.matcher.Match(track, candidates)
	if result.Outcome != MatchOutcomeMatched {
		j.logger.Debug("Track unmatched",
			zap.String("title", track.Title),
			zap.String("outcome", result.Outcome.String()),
			zap.Float64("confidence", result.Confidence))
	}

	j.storeJSON(key, result)
	return result
}

func (j *job) searchCandidates(ctx context.Context, track TrackDescriptor) ([]MatchCandidate, error) {
	query := SearchQuery{Title: track.Title}
	if len(track.Artists) > 0 {
		query.Artist = track.Artists[0]
	}

	key := cacheKeySearch + j.runner.matcher.SearchFingerprint(query)

	var candidates []MatchCandidate
	hit := j.cachedJSON(key, &candidates)
	j.lookupMetric("search", hit)
	if hit {
		return candidates, nil
	}

	err := j.runner.retryer.Do(ctx, "target.SearchLibrary", func(ctx context.Context) error {
		var err error
		candidates, err = j.runner.target.SearchLibrary(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	j.storeJSON(key, candidates)
	return candidates, nil
}

// apply diffs the desired track list against the target playlist and
// mutates it per the active mode. The whole diff+apply span holds the
// per-playlist-identity lock so no two jobs mutate the same playlist
// concurrently.
func (j *job) apply(ctx context.Context, plan PlaylistSpec) bool {
	lockKey := plan.TargetUser + "\x00" + plan.Title
	j.runner.locks.Lock(lockKey)
	defer j.runner.locks.Unlock(lockKey)

	j.state = JobStateDiffing

	var existing *TargetPlaylist
	err := j.runner.retryer.Do(ctx, "target.GetPlaylist", func(ctx context.Context) error {
		var err error
		existing, err = j.runner.target.GetPlaylist(ctx, plan.TargetUser, plan.Title)
		return err
	})
	if err != nil {
		j.logger.Error("Failed to look up target playlist", zap.Error(err))
		j.recordError("diffing", "", err.Error())
		return false
	}

	j.state = JobStateApplying

	switch {
	case existing == nil:
		var id string
		err = j.runner.retryer.Do(ctx, "target.CreatePlaylist", func(ctx context.Context) error {
			var err error
			id, err = j.runner.target.CreatePlaylist(ctx, plan.TargetUser, plan.Title, plan.DesiredTrackIDs)
			return err
		})
		if err != nil {
			j.logger.Error("Failed to create playlist", zap.Error(err))
			j.recordError("applying", "", err.Error())
			return false
		}
		j.outcome.Action = ActionCreated
		j.applyCoverArt(ctx, id)

	case j.runner.mode == ModeReplace:
		err = j.runner.retryer.Do(ctx, "target.SetPlaylistTracks", func(ctx context.Context) error {
			return j.runner.target.SetPlaylistTracks(ctx, existing.ID, plan.DesiredTrackIDs)
		})
		if err != nil {
			j.logger.Error("Failed to replace playlist tracks", zap.Error(err))
			j.recordError("applying", "", err.Error())
			return false
		}
		j.outcome.Action = ActionReplaced
		j.applyCoverArt(ctx, existing.ID)

	default:
		missing := missingTracks(plan.DesiredTrackIDs, existing.CurrentTrackIDs)
		if len(missing) == 0 {
			j.logger.Info("Playlist already up to date")
			j.outcome.Action = ActionSkipped
			return true
		}
		err = j.runner.retryer.Do(ctx, "target.AppendPlaylistTracks", func(ctx context.Context) error {
			return j.runner.target.AppendPlaylistTracks(ctx, existing.ID, missing)
		})
		if err != nil {
			j.logger.Error("Failed to append playlist tracks", zap.Error(err))
			j.recordError("applying", "", err.Error())
			return false
		}
		j.outcome.Action = ActionUpdated
	}

	return true
}

// applyCoverArt mirrors the source playlist artwork, best-effort: failures
// are logged and do not affect the job outcome.
func (j *job) applyCoverArt(ctx context.Context, playlistID string) {
	artURL, err := j.runner.source.GetCoverArt(ctx, j.request.PlaylistID)
	if err != nil || artURL == "" {
		return
	}
	if err := j.runner.target.SetPlaylistArt(ctx, playlistID, artURL); err != nil {
		j.logger.Warn("Failed to set playlist art", zap.Error(err))
	}
}

// missingTracks returns the desired IDs absent from current, deduplicated,
// in desired order.
func missingTracks(desired, current []string) []string {
	have := make(map[string]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}

	var missing []string
	for _, id := range desired {
		if _, ok := have[id]; ok {
			continue
		}
		have[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing
}

func (j *job) recordError(stage, trackID, message string) {
	j.outcome.Errors = append(j.outcome.Errors, ErrorRecord{
		Stage:   stage,
		TrackID: trackID,
		Message: message,
	})
}

func (j *job) cachedJSON(key string, out any) bool {
	if j.runner.cache == nil {
		return false
	}
	raw, ok := j.runner.cache.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		j.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (j *job) storeJSON(key string, value any) {
	if j.runner.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	j.runner.cache.Put(key, raw, j.runner.cacheTTL)
}

func (j *job) lookupMetric(kind string, hit bool) {
	if j.runner.metrics != nil {
		j.runner.metrics.CacheLookup(kind, hit)
	}
}
