package itunes

import (
	"sort"
	"strings"
)

// compilationKeywords mark album titles that are unlikely to be the
// canonical studio release.
var compilationKeywords = []string{
	"greatest hits", "best of", "compilation", "collection",
	"anthology", "live", "karaoke", "tribute", "cover",
}

// RankTracks orders tracks by canonical-release likelihood, best first.
// The sort is stable, so the provider's own recency ordering breaks
// ties.
func RankTracks(tracks []Track, queryArtist, queryTitle string) []Track {
	type scored struct {
		track Track
		score float64
	}

	ranked := make([]scored, 0, len(tracks))
	for _, t := range tracks {
		ranked = append(ranked, scored{track: t, score: scoreTrack(t, queryArtist, queryTitle)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]Track, len(ranked))
	for i, s := range ranked {
		out[i] = s.track
	}
	return out
}

func scoreTrack(t Track, queryArtist, queryTitle string) float64 {
	var score float64

	title := normalize(t.Title)
	artist := normalize(t.Artist)
	album := normalize(t.Album)
	wantTitle := normalize(queryTitle)
	wantArtist := normalize(queryArtist)

	if wantTitle != "" {
		if title == wantTitle {
			score += 50
		} else if strings.Contains(title, wantTitle) {
			score += 25
		}
	}

	if wantArtist != "" {
		if artist == wantArtist {
			score += 30
		} else if strings.Contains(artist, wantArtist) {
			score += 15
		}
	}

	compilation := false
	for _, kw := range compilationKeywords {
		if strings.Contains(album, kw) {
			compilation = true
			break
		}
	}
	if !compilation {
		score += 20
	}

	if t.IsStreamable {
		score += 10
	}
	if t.Explicitness == "notExplicit" {
		score += 5
	}

	return score
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
