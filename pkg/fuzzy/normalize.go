// Package fuzzy provides text normalization and similarity scoring for
// matching music metadata across catalogs with inconsistent tagging.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Duration closeness: differences within the tolerance score 1.0, then
// closeness decays linearly to 0 at the outer bound.
const (
	durationToleranceMs = 30_000
	durationMaxDiffMs   = 120_000
)

var (
	featRegex       = regexp.MustCompile(`(?i)[\(\[\{]?\s*\b(?:feat|ft|featuring|with)\b\.?\s+[^\)\]\}]*[\)\]\}]?`)
	qualifierRegex  = regexp.MustCompile(`(?i)[\(\[\{][^\)\]\}]*(?:remaster(?:ed)?|deluxe|extended|radio edit|single|album|live|acoustic|demo|mono|stereo|version|edit|mix|remix|clean|explicit|bonus)[^\)\]\}]*[\)\]\}]`)
	trailingRegex   = regexp.MustCompile(`(?i)\s+-\s+(?:\d{4}\s+)?(?:remaster(?:ed)?|deluxe|extended|radio edit|single version|album version|live|acoustic|demo|mono|stereo|edit|remix)(?:\s+\d{4})?\s*$`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Normalizer canonicalizes metadata strings and scores their similarity.
// All methods are safe for concurrent use.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeText lowercases, strips diacritics via NFKD decomposition,
// removes punctuation and collapses whitespace.
func (n *Normalizer) NormalizeText(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.IsMark(r) {
			continue
		}
		b.WriteRune(r)
	}

	out := punctRegex.ReplaceAllString(b.String(), " ")
	out = whitespaceRegex.ReplaceAllString(out, " ")
	return strings.ToLower(strings.TrimSpace(out))
}

// NormalizeTitle additionally strips featured-artist credits, bracketed
// qualifiers like "(Remastered 2011)" and trailing "- Live" style suffixes
// before normalizing. Used as the secondary, more forgiving title pass.
func (n *Normalizer) NormalizeTitle(s string) string {
	out := featRegex.ReplaceAllString(s, " ")
	out = qualifierRegex.ReplaceAllString(out, " ")
	out = trailingRegex.ReplaceAllString(out, " ")
	return n.NormalizeText(out)
}

// NormalizeArtist normalizes an artist name, dropping connective words so
// "A & B" and "A and B" compare equal ("&" is already removed as
// punctuation by NormalizeText).
func (n *Normalizer) NormalizeArtist(s string) string {
	out := n.NormalizeText(s)
	fields := strings.Fields(out)
	kept := fields[:0]
	for _, f := range fields {
		switch f {
		case "and", "vs", "versus":
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// Similarity returns the longest-common-subsequence ratio of two strings
// in [0,1]. Equal strings score 1; an empty string against a non-empty
// one scores 0.
func (n *Normalizer) Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(rb)]
	return float64(2*lcs) / float64(len(ra)+len(rb))
}

// ArtistOverlap returns the Jaccard index of two artist lists after
// normalization. Two empty lists score 1, one empty list scores 0.
func (n *Normalizer) ArtistOverlap(a, b []string) float64 {
	setA := n.artistSet(a)
	setB := n.artistSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for name := range setA {
		if _, ok := setB[name]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func (n *Normalizer) artistSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		normalized := n.NormalizeArtist(name)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

// DurationCloseness scores how close two durations are, in milliseconds.
// Differences within 30s score 1.0, decaying linearly to 0 at 2min.
func (n *Normalizer) DurationCloseness(a, b int) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff <= durationToleranceMs {
		return 1
	}
	if diff >= durationMaxDiffMs {
		return 0
	}
	return 1 - float64(diff-durationToleranceMs)/float64(durationMaxDiffMs-durationToleranceMs)
}
