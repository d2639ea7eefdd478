package fuzzy

import (
	"math"
	"testing"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_NormalizeText(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Lowercases and trims",
			input:    "  Hey Jude  ",
			expected: "hey jude",
		},
		{
			name:     "Strips accents",
			input:    "Beyoncé",
			expected: "beyonce",
		},
		{
			name:     "Replaces punctuation",
			input:    "P!nk - So What?",
			expected: "p nk so what",
		},
		{
			name:     "Collapses whitespace",
			input:    "one\t two   three",
			expected: "one two three",
		},
		{
			name:     "Keeps digits",
			input:    "Track 2",
			expected: "track 2",
		},
		{
			name:     "Empty input",
			input:    "",
			expected: "",
		},
	}

	runStringTransformationTest(t, "NormalizeText", normalizer.NormalizeText, tests)
}

func TestNormalizer_NormalizeTitle(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple title unchanged",
			input:    "Hey Jude",
			expected: "hey jude",
		},
		{
			name:     "Strips bracketed remaster qualifier",
			input:    "Live at Wembley (Remastered 2011)",
			expected: "live at wembley",
		},
		{
			name:     "Strips deluxe qualifier",
			input:    "Album Song [Deluxe Edition]",
			expected: "album song",
		},
		{
			name:     "Strips trailing dash qualifier",
			input:    "Song Title - 2009 Remaster",
			expected: "song title",
		},
		{
			name:     "Strips trailing live suffix",
			input:    "Song Title - Live",
			expected: "song title",
		},
		{
			name:     "Strips featuring credit",
			input:    "Song Title (feat. Other Artist)",
			expected: "song title",
		},
		{
			name:     "Strips ft credit without brackets",
			input:    "Song Title ft. Other Artist",
			expected: "song title",
		},
		{
			name:     "Keeps non-qualifier brackets",
			input:    "Time (Clock of the Heart)",
			expected: "time clock of the heart",
		},
	}

	runStringTransformationTest(t, "NormalizeTitle", normalizer.NormalizeTitle, tests)
}

func TestNormalizer_NormalizeArtist(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple artist name",
			input:    "The Beatles",
			expected: "the beatles",
		},
		{
			name:     "Ampersand and 'and' fold together",
			input:    "Simon & Garfunkel",
			expected: "simon garfunkel",
		},
		{
			name:     "Artist with and",
			input:    "Simon and Garfunkel",
			expected: "simon garfunkel",
		},
		{
			name:     "Artist with vs",
			input:    "Artist vs Someone",
			expected: "artist someone",
		},
		{
			name:     "Artist with punctuation",
			input:    "P!nk",
			expected: "p nk",
		},
		{
			name:     "Artist with accents",
			input:    "Björk",
			expected: "bjork",
		},
	}

	runStringTransformationTest(t, "NormalizeArtist", normalizer.NormalizeArtist, tests)
}

func TestNormalizer_Similarity(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{
			name:     "Identical strings",
			a:        "hey jude",
			b:        "hey jude",
			expected: 1,
		},
		{
			name:     "Both empty",
			a:        "",
			b:        "",
			expected: 1,
		},
		{
			name:     "One empty",
			a:        "hey jude",
			b:        "",
			expected: 0,
		},
		{
			name:     "Completely different",
			a:        "abc",
			b:        "xyz",
			expected: 0,
		},
		{
			name:     "Common prefix",
			a:        "abcd",
			b:        "abxy",
			expected: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizer.Similarity(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_SimilarityIsSymmetric(t *testing.T) {
	normalizer := NewNormalizer()

	pairs := [][2]string{
		{"hey jude", "hey jude remastered"},
		{"short", "a much longer string"},
		{"", "nonempty"},
	}

	for _, pair := range pairs {
		ab := normalizer.Similarity(pair[0], pair[1])
		ba := normalizer.Similarity(pair[1], pair[0])
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", pair[0], pair[1], ab, ba)
		}
	}
}

func TestNormalizer_ArtistOverlap(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		a        []string
		b        []string
		expected float64
	}{
		{
			name:     "Identical single artist",
			a:        []string{"The Beatles"},
			b:        []string{"The Beatles"},
			expected: 1,
		},
		{
			name:     "Case and accent insensitive",
			a:        []string{"Beyoncé"},
			b:        []string{"beyonce"},
			expected: 1,
		},
		{
			name:     "Partial overlap",
			a:        []string{"Artist A", "Artist B"},
			b:        []string{"Artist A"},
			expected: 0.5,
		},
		{
			name:     "No overlap",
			a:        []string{"Artist A"},
			b:        []string{"Artist B"},
			expected: 0,
		},
		{
			name:     "Both empty",
			a:        nil,
			b:        nil,
			expected: 1,
		},
		{
			name:     "One empty",
			a:        []string{"Artist A"},
			b:        nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizer.ArtistOverlap(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ArtistOverlap(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_DurationCloseness(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		a        int
		b        int
		expected float64
	}{
		{
			name:     "Exact match",
			a:        210_000,
			b:        210_000,
			expected: 1,
		},
		{
			name:     "Within tolerance",
			a:        210_000,
			b:        230_000,
			expected: 1,
		},
		{
			name:     "At tolerance boundary",
			a:        210_000,
			b:        240_000,
			expected: 1,
		},
		{
			name:     "Halfway between tolerance and cap",
			a:        210_000,
			b:        285_000,
			expected: 0.5,
		},
		{
			name:     "At the cap",
			a:        210_000,
			b:        330_000,
			expected: 0,
		},
		{
			name:     "Beyond the cap",
			a:        210_000,
			b:        400_000,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizer.DurationCloseness(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("DurationCloseness(%d, %d) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}
