package core

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"plexsync/pkg/fuzzy"
)

// MatcherVersion participates in match-result cache fingerprints so that
// scoring rule changes invalidate previously cached matches.
const MatcherVersion = "1"

// Scoring calibration. The weights favor title similarity, then artist
// overlap, with album and duration as weaker signals. A match found only
// after stripping bracketed qualifiers scores below an exact match.
// Validated against known remaster/featuring cases; see DESIGN.md.
const (
	titleWeight    = 0.5
	artistWeight   = 0.3
	albumWeight    = 0.1
	durationWeight = 0.1

	strippedPassFactor = 0.9

	// DefaultScoreThreshold is the minimum confidence for a match.
	DefaultScoreThreshold = 0.62
	// DefaultAmbiguityMargin is the minimum gap between the best and
	// second-best candidate to accept the best as non-ambiguous.
	DefaultAmbiguityMargin = 0.05
)

// Matcher maps a source track plus target-library search results to a
// best-match decision. Match is deterministic and side-effect-free so its
// results can be cache-keyed purely on inputs.
type Matcher struct {
	normalizer *fuzzy.Normalizer
	threshold  float64
	margin     float64
}

func NewMatcher() *Matcher {
	return &Matcher{
		normalizer: fuzzy.NewNormalizer(),
		threshold:  DefaultScoreThreshold,
		margin:     DefaultAmbiguityMargin,
	}
}

// NewMatcherWithThresholds builds a Matcher with explicit calibration,
// used by tests to pin boundary behavior.
func NewMatcherWithThresholds(threshold, margin float64) *Matcher {
	m := NewMatcher()
	m.threshold = threshold
	m.margin = margin
	return m
}

type scoredCandidate struct {
	candidate MatchCandidate
	score     float64
	durDiff   int
}

// Match scores every candidate against the track and applies the outcome
// rules: no candidate or top score below threshold yields NotFound; a top
// score within the ambiguity margin of a distinct runner-up yields
// Ambiguous; otherwise Matched with confidence set to the top score.
func (m *Matcher) Match(track TrackDescriptor, candidates []MatchCandidate) MatchResult {
	result := MatchResult{Input: track, Outcome: MatchOutcomeNotFound}

	if len(candidates) == 0 {
		return result
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scoredCandidate{
			candidate: c,
			score:     m.Score(track, c),
			durDiff:   durationDiff(track.DurationMs, c.DurationMs),
		})
	}

	// Deterministic order: score desc, then closer duration, then
	// lexicographically smaller target ID.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].durDiff != scored[j].durDiff {
			return scored[i].durDiff < scored[j].durDiff
		}
		return scored[i].candidate.TargetID < scored[j].candidate.TargetID
	})

	best := scored[0]
	result.Confidence = best.score

	if best.score < m.threshold {
		return result
	}

	// The ambiguity gap is measured against the best-scoring candidate
	// that is a different target track; duplicate search results for the
	// same ID do not make a match ambiguous.
	for _, other := range scored[1:] {
		if other.candidate.TargetID == best.candidate.TargetID {
			continue
		}
		if best.score-other.score < m.margin {
			result.Outcome = MatchOutcomeAmbiguous
			return result
		}
		break
	}

	result.Outcome = MatchOutcomeMatched
	result.MatchedID = best.candidate.TargetID
	return result
}

// Score computes the weighted similarity of one candidate in [0,1].
func (m *Matcher) Score(track TrackDescriptor, candidate MatchCandidate) float64 {
	exactTitle := m.normalizer.Similarity(
		m.normalizer.NormalizeText(track.Title),
		m.normalizer.NormalizeText(candidate.Title),
	)
	strippedTitle := strippedPassFactor * m.normalizer.Similarity(
		m.normalizer.NormalizeTitle(track.Title),
		m.normalizer.NormalizeTitle(candidate.Title),
	)
	titleScore := math.Max(exactTitle, strippedTitle)

	artistScore := m.normalizer.ArtistOverlap(track.Artists, candidate.Artists)

	albumScore := m.normalizer.Similarity(
		m.normalizer.NormalizeText(track.Album),
		m.normalizer.NormalizeText(candidate.Album),
	)

	weighted := titleWeight*titleScore + artistWeight*artistScore + albumWeight*albumScore
	total := titleWeight + artistWeight + albumWeight

	// Duration contributes only when both sides report one.
	if track.DurationMs > 0 && candidate.DurationMs > 0 {
		weighted += durationWeight * m.normalizer.DurationCloseness(track.DurationMs, candidate.DurationMs)
		total += durationWeight
	}

	return weighted / total
}

func durationDiff(a, b int) int {
	if a <= 0 || b <= 0 {
		return math.MaxInt
	}
	if a > b {
		return a - b
	}
	return b - a
}

// TrackFingerprint returns the cache fingerprint of a normalized track
// descriptor, including the matcher version tag.
func (m *Matcher) TrackFingerprint(track TrackDescriptor) string {
	artists := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		artists = append(artists, m.normalizer.NormalizeArtist(a))
	}
	sort.Strings(artists)

	return Fingerprint(
		"v"+MatcherVersion,
		m.normalizer.NormalizeText(track.Title),
		strings.Join(artists, ","),
		m.normalizer.NormalizeText(track.Album),
		strconv.Itoa(track.DurationMs),
	)
}

// SearchFingerprint returns the cache fingerprint for a target-library
// search query.
func (m *Matcher) SearchFingerprint(query SearchQuery) string {
	return Fingerprint(
		m.normalizer.NormalizeText(query.Title),
		m.normalizer.NormalizeArtist(query.Artist),
	)
}

// Fingerprint derives a deterministic hex key from normalized parameters.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
