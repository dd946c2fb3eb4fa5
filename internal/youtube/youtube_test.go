package youtube

import (
	"testing"

	apperr "karaoke/internal/errors"
	"karaoke/internal/logger"
)

func init() {
	logger.InitDiscard()
}

func TestExtractVideoID_AcceptedForms(t *testing.T) {
	const id = "dQw4w9WgXcQ"

	accepted := []string{
		id,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://youtube.com/watch?list=PL123&v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abc",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://www.youtube.com/v/dQw4w9WgXcQ",
	}

	for _, input := range accepted {
		got, err := ExtractVideoID(input)
		if err != nil {
			t.Errorf("ExtractVideoID(%q) failed: %v", input, err)
			continue
		}
		if got != id {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", input, got, id)
		}
	}
}

func TestExtractVideoID_RejectsGarbage(t *testing.T) {
	rejected := []string{
		"",
		"not a url",
		"https://vimeo.com/12345",
		"https://www.youtube.com/watch?v=tooshort",
		"https://www.youtube.com/watch",
		"https://youtu.be/",
	}

	for _, input := range rejected {
		if _, err := ExtractVideoID(input); err == nil {
			t.Errorf("ExtractVideoID(%q) should fail", input)
		} else if apperr.Code(err) != "INVALID_URL" {
			t.Errorf("ExtractVideoID(%q) code = %s, want INVALID_URL", input, apperr.Code(err))
		}
	}
}

func TestExtractVideoID_InverseOfWatchURL(t *testing.T) {
	ids := []string{"dQw4w9WgXcQ", "a1b2c3d4e5f", "___________", "-----------"}
	for _, id := range ids {
		got, err := ExtractVideoID(WatchURL(id))
		if err != nil {
			t.Errorf("round trip for %q failed: %v", id, err)
			continue
		}
		if got != id {
			t.Errorf("round trip = %q, want %q", got, id)
		}
	}
}

func TestParseArtistTitle(t *testing.T) {
	tests := []struct {
		videoTitle, fallback string
		wantArtist, wantTitle string
	}{
		{"Rick Astley - Never Gonna Give You Up", "", "Rick Astley", "Never Gonna Give You Up"},
		{"Lorde – The Louvre", "", "Lorde", "The Louvre"},
		{"Just A Title", "Uploader", "Uploader", "Just A Title"},
		{"- Leading Dash", "Fallback", "Fallback", "- Leading Dash"},
	}

	for _, tt := range tests {
		artist, title := ParseArtistTitle(tt.videoTitle, tt.fallback)
		if artist != tt.wantArtist || title != tt.wantTitle {
			t.Errorf("ParseArtistTitle(%q) = (%q, %q), want (%q, %q)",
				tt.videoTitle, artist, title, tt.wantArtist, tt.wantTitle)
		}
	}
}

func TestRankThumbnails_PreferenceThenFormat(t *testing.T) {
	thumbs := []Thumbnail{
		{URL: "https://i.ytimg.com/vi/x/default.jpg", Preference: -10},
		{URL: "https://i.ytimg.com/vi_webp/x/maxresdefault.webp", Preference: 5},
		{URL: "https://i.ytimg.com/vi/x/maxresdefault.jpg", Preference: 5},
		{URL: "https://i.ytimg.com/vi/x/hqdefault.jpg", Preference: 0},
	}

	urls := RankThumbnails(thumbs)
	if len(urls) != 4 {
		t.Fatalf("got %d urls, want 4", len(urls))
	}
	// Same preference: webp outranks jpg via the shared format table.
	if urls[0] != "https://i.ytimg.com/vi_webp/x/maxresdefault.webp" {
		t.Errorf("best thumbnail = %s, want the webp variant", urls[0])
	}
	if urls[3] != "https://i.ytimg.com/vi/x/default.jpg" {
		t.Errorf("worst thumbnail = %s, want the lowest preference", urls[3])
	}
}
