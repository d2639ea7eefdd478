package core

import (
	"context"
	"time"
)

// TrackDescriptor identifies one track as reported by the source catalog.
// Instances are immutable after creation.
type TrackDescriptor struct {
	Title      string
	Artists    []string
	Album      string
	DurationMs int // 0 when the source does not report a duration
	SourceID   string
}

// MatchCandidate is one target-library search result, scored by the Matcher.
type MatchCandidate struct {
	TargetID   string
	Title      string
	Artists    []string
	Album      string
	DurationMs int
	Score      float64
}

type MatchOutcome int

const (
	// MatchOutcomeNotFound indicates no candidate scored above the confidence threshold
	MatchOutcomeNotFound MatchOutcome = iota
	// MatchOutcomeAmbiguous indicates the best candidate could not be separated from the runner-up
	MatchOutcomeAmbiguous
	// MatchOutcomeMatched indicates a single candidate won with sufficient confidence
	MatchOutcomeMatched
)

func (o MatchOutcome) String() string {
	switch o {
	case MatchOutcomeMatched:
		return "matched"
	case MatchOutcomeAmbiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// MatchResult records the matching decision for one source track.
// MatchedID is non-empty iff Outcome is MatchOutcomeMatched.
type MatchResult struct {
	Input      TrackDescriptor
	MatchedID  string
	Confidence float64
	Outcome    MatchOutcome
}

// PlaylistSpec is the fully resolved description of one target playlist
// mutation. DesiredTrackIDs preserves source order and duplicates and never
// contains an ID whose match outcome was NotFound or Ambiguous.
type PlaylistSpec struct {
	SourceID        string
	TargetUser      string
	Title           string
	DesiredTrackIDs []string
	CoverArtRef     string
}

type SyncAction int

const (
	// ActionSkipped indicates the playlist required no mutation
	ActionSkipped SyncAction = iota
	// ActionCreated indicates a new target playlist was created
	ActionCreated
	// ActionUpdated indicates missing tracks were appended to an existing playlist
	ActionUpdated
	// ActionReplaced indicates the existing track list was fully overwritten
	ActionReplaced
	// ActionFailed indicates the job terminated without a successful mutation
	ActionFailed
)

func (a SyncAction) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionReplaced:
		return "replaced"
	case ActionFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// ErrorRecord captures one non-fatal error encountered during a job.
type ErrorRecord struct {
	Stage   string
	TrackID string
	Message string
}

// SyncOutcome summarizes one completed Sync Job.
type SyncOutcome struct {
	PlaylistSourceID string
	TargetUser       string
	PlaylistTitle    string
	TracksRequested  int
	TracksMatched    int
	TracksUnmatched  int
	Action           SyncAction
	Errors           []ErrorRecord
}

// SyncRequest names one (source playlist, target user) pair to reconcile.
type SyncRequest struct {
	PlaylistID string
	TargetUser string
}

// SyncMode selects the playlist mutation policy.
type SyncMode int

const (
	// ModeUpdate appends desired tracks missing from the current list,
	// preserving manual additions and existing order
	ModeUpdate SyncMode = iota
	// ModeReplace overwrites the track list with exactly the desired IDs
	ModeReplace
)

func (m SyncMode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "update"
}

// SearchQuery carries the fields the target catalog searches on.
type SearchQuery struct {
	Title  string
	Artist string
}

// TargetPlaylist is the target catalog's view of an existing playlist.
type TargetPlaylist struct {
	ID              string
	CurrentTrackIDs []string
}

// SourceCatalog lists playlists held by the source system. Implementations
// wrap NotFound conditions with ErrNotFound so callers can distinguish a
// deleted playlist from a transient failure.
type SourceCatalog interface {
	ListPlaylistTracks(ctx context.Context, playlistID string) ([]TrackDescriptor, error)
	GetPlaylistTitle(ctx context.Context, playlistID string) (string, error)
	GetCoverArt(ctx context.Context, playlistID string) (string, error)
}

// TargetCatalog searches the target library and mutates target playlists.
// Mutating calls are never cached and are executed exactly as requested.
type TargetCatalog interface {
	SearchLibrary(ctx context.Context, query SearchQuery) ([]MatchCandidate, error)
	GetPlaylist(ctx context.Context, user, title string) (*TargetPlaylist, error)
	CreatePlaylist(ctx context.Context, user, title string, trackIDs []string) (string, error)
	SetPlaylistTracks(ctx context.Context, id string, trackIDs []string) error
	AppendPlaylistTracks(ctx context.Context, id string, trackIDs []string) error
	SetPlaylistArt(ctx context.Context, id, artURL string) error
	DeletePlaylist(ctx context.Context, id string) error
}

// ImportSource supplies playlist identifiers to treat as manual-equivalent
// input, e.g. from a library management tool.
type ImportSource interface {
	PlaylistIDs(ctx context.Context) ([]string, error)
}

// Cache is a process-wide key-value store with per-entry TTL. A zero-value
// or unavailable backing store degrades to always-miss, never to an error.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration)
	Clear(prefix string) error
}

// UnavailableTracker deduplicates playlist IDs that resolved to NotFound so
// operators can prune stale configuration.
type UnavailableTracker interface {
	Mark(playlistID string)
	Has(playlistID string) bool
	List() []string
}

// Metrics receives orchestrator-level counters. Implementations must be
// safe for concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	JobCompleted(action SyncAction, duration time.Duration)
	TracksMatched(matched, unmatched int)
	CacheLookup(kind string, hit bool)
}
