package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// slowTargetCatalog wraps a mockTargetCatalog and records the peak number
// of concurrent mutating calls, overall and per playlist identity.
type slowTargetCatalog struct {
	*mockTargetCatalog

	delay time.Duration

	applying    int32
	maxApplying int32

	sameTitleOverlap int32
	titleApplying    map[string]*int32
}

func newSlowTargetCatalog(delay time.Duration, titles []string) *slowTargetCatalog {
	s := &slowTargetCatalog{
		mockTargetCatalog: newMockTargetCatalog(),
		delay:             delay,
		titleApplying:     make(map[string]*int32),
	}
	for _, title := range titles {
		s.titleApplying[title] = new(int32)
	}
	return s
}

func (s *slowTargetCatalog) enter(title string) {
	current := atomic.AddInt32(&s.applying, 1)
	for {
		peak := atomic.LoadInt32(&s.maxApplying)
		if current <= peak || atomic.CompareAndSwapInt32(&s.maxApplying, peak, current) {
			break
		}
	}
	if gauge, ok := s.titleApplying[title]; ok {
		if atomic.AddInt32(gauge, 1) > 1 {
			atomic.StoreInt32(&s.sameTitleOverlap, 1)
		}
	}
	time.Sleep(s.delay)
}

func (s *slowTargetCatalog) leave(title string) {
	if gauge, ok := s.titleApplying[title]; ok {
		atomic.AddInt32(gauge, -1)
	}
	atomic.AddInt32(&s.applying, -1)
}

func (s *slowTargetCatalog) CreatePlaylist(ctx context.Context, user, title string, trackIDs []string) (string, error) {
	s.enter(title)
	defer s.leave(title)
	return s.mockTargetCatalog.CreatePlaylist(ctx, user, title, trackIDs)
}

func (s *slowTargetCatalog) AppendPlaylistTracks(ctx context.Context, id string, trackIDs []string) error {
	s.enter(id)
	defer s.leave(id)
	return s.mockTargetCatalog.AppendPlaylistTracks(ctx, id, trackIDs)
}

func newTestOrchestrator(runner *JobRunner, tracker UnavailableTracker, parallelism int) *Orchestrator {
	return NewOrchestrator(zap.NewNop(), runner, tracker, parallelism)
}

func TestOrchestrator_Run_AggregatesReport(t *testing.T) {
	trackA := TrackDescriptor{Title: "Song A", Artists: []string{"Artist X"}, Album: "Album A", DurationMs: 200_000, SourceID: "sA"}

	source := &mockSourceCatalog{
		titles: map[string]string{
			"p1": "List One",
			"p2": "List Two",
		},
		tracks: map[string][]TrackDescriptor{
			"p1": {trackA},
			"p2": {{Title: "Unmatchable", Artists: []string{"Nobody"}, SourceID: "sX"}},
		},
	}
	target := newMockTargetCatalog()
	target.library["Song A"] = []MatchCandidate{exactCandidate("100", trackA)}

	tracker := newMockTracker()
	runner := newTestRunner(source, target, newMemCache(), tracker, false)
	orchestrator := newTestOrchestrator(runner, tracker, 2)

	report := orchestrator.Run(context.Background(), []SyncRequest{
		{PlaylistID: "p1", TargetUser: "alice"},
		{PlaylistID: "p2", TargetUser: "alice"},
		{PlaylistID: "missing", TargetUser: "alice"},
	})

	if len(report.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(report.Outcomes))
	}
	// Outcomes stay in input order regardless of completion order.
	if report.Outcomes[0].PlaylistSourceID != "p1" ||
		report.Outcomes[1].PlaylistSourceID != "p2" ||
		report.Outcomes[2].PlaylistSourceID != "missing" {
		t.Errorf("outcome order = %v %v %v, want input order",
			report.Outcomes[0].PlaylistSourceID,
			report.Outcomes[1].PlaylistSourceID,
			report.Outcomes[2].PlaylistSourceID)
	}

	if report.Created != 1 {
		t.Errorf("created = %d, want 1", report.Created)
	}
	if report.Failed != 2 {
		t.Errorf("failed = %d, want 2", report.Failed)
	}
	if report.TotalMatched != 1 || report.TotalUnmatched != 1 {
		t.Errorf("matched/unmatched = %d/%d, want 1/1", report.TotalMatched, report.TotalUnmatched)
	}
	if len(report.UnavailablePlaylists) != 1 || report.UnavailablePlaylists[0] != "missing" {
		t.Errorf("unavailable = %v, want [missing]", report.UnavailablePlaylists)
	}
	if report.Success() {
		t.Error("report with failed jobs must not count as success")
	}
}

func TestOrchestrator_Run_RespectsParallelismBound(t *testing.T) {
	const playlists = 10
	const parallelism = 3

	trackA := TrackDescriptor{Title: "Song A", Artists: []string{"Artist X"}, Album: "Album A", DurationMs: 200_000, SourceID: "sA"}

	source := &mockSourceCatalog{
		titles: make(map[string]string),
		tracks: make(map[string][]TrackDescriptor),
	}
	titles := make([]string, 0, playlists)
	requests := make([]SyncRequest, 0, playlists)
	for i := 0; i < playlists; i++ {
		id := fmt.Sprintf("p%d", i)
		title := fmt.Sprintf("List %d", i)
		source.titles[id] = title
		source.tracks[id] = []TrackDescriptor{trackA}
		titles = append(titles, title)
		requests = append(requests, SyncRequest{PlaylistID: id, TargetUser: "alice"})
	}

	target := newSlowTargetCatalog(20*time.Millisecond, titles)
	target.library["Song A"] = []MatchCandidate{exactCandidate("100", trackA)}

	tracker := newMockTracker()
	runner := newTestRunner(source, target, newMemCache(), tracker, false)
	orchestrator := newTestOrchestrator(runner, tracker, parallelism)

	report := orchestrator.Run(context.Background(), requests)

	if report.Created != playlists {
		t.Fatalf("created = %d, want %d", report.Created, playlists)
	}
	if peak := atomic.LoadInt32(&target.maxApplying); peak > parallelism {
		t.Errorf("peak concurrent mutating calls = %d, want at most %d", peak, parallelism)
	}
}

func TestOrchestrator_Run_SamePlaylistNeverAppliesConcurrently(t *testing.T) {
	trackA := TrackDescriptor{Title: "Song A", Artists: []string{"Artist X"}, Album: "Album A", DurationMs: 200_000, SourceID: "sA"}
	trackB := TrackDescriptor{Title: "Song B", Artists: []string{"Artist Y"}, Album: "Album B", DurationMs: 180_000, SourceID: "sB"}

	// Two distinct source playlists resolving to the same target title for
	// the same user must serialize their apply phases.
	source := &mockSourceCatalog{
		titles: map[string]string{"p1": "Shared", "p2": "Shared"},
		tracks: map[string][]TrackDescriptor{
			"p1": {trackA},
			"p2": {trackB},
		},
	}
	target := newSlowTargetCatalog(20*time.Millisecond, []string{"Shared"})
	target.library["Song A"] = []MatchCandidate{exactCandidate("100", trackA)}
	target.library["Song B"] = []MatchCandidate{exactCandidate("200", trackB)}

	tracker := newMockTracker()
	runner := newTestRunner(source, target, newMemCache(), tracker, false)
	orchestrator := newTestOrchestrator(runner, tracker, 4)

	orchestrator.Run(context.Background(), []SyncRequest{
		{PlaylistID: "p1", TargetUser: "alice"},
		{PlaylistID: "p2", TargetUser: "alice"},
	})

	if atomic.LoadInt32(&target.sameTitleOverlap) != 0 {
		t.Error("two jobs mutated the same playlist identity concurrently")
	}
}

func TestOrchestrator_Run_DeduplicatesUnavailable(t *testing.T) {
	source := &mockSourceCatalog{
		titles: map[string]string{},
		tracks: map[string][]TrackDescriptor{},
	}
	target := newMockTargetCatalog()
	tracker := newMockTracker()
	runner := newTestRunner(source, target, newMemCache(), tracker, false)
	orchestrator := newTestOrchestrator(runner, tracker, 2)

	report := orchestrator.Run(context.Background(), []SyncRequest{
		{PlaylistID: "gone", TargetUser: "alice"},
		{PlaylistID: "gone", TargetUser: "bob"},
	})

	if len(report.UnavailablePlaylists) != 1 || report.UnavailablePlaylists[0] != "gone" {
		t.Errorf("unavailable = %v, want [gone]", report.UnavailablePlaylists)
	}
}

func TestOrchestrator_Run_EmptyRequestList(t *testing.T) {
	tracker := newMockTracker()
	runner := newTestRunner(&mockSourceCatalog{}, newMockTargetCatalog(), newMemCache(), tracker, false)
	orchestrator := newTestOrchestrator(runner, tracker, 3)

	report := orchestrator.Run(context.Background(), nil)

	if len(report.Outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(report.Outcomes))
	}
	if !report.Success() {
		t.Error("empty run must count as success")
	}
}
