package provider

import (
	"net/url"
	"testing"

	"EchoFM/model"
)

func transcoding(protocol, u string) model.SoundCloudTranscoding {
	t := model.SoundCloudTranscoding{URL: u}
	t.Format.Protocol = protocol
	return t
}

func TestFormatTrack(t *testing.T) {
	raw := model.SoundCloudTrack{
		Kind:         "track",
		Title:        "Midnight City",
		PermalinkURL: "https://soundcloud.com/m83/midnight-city",
		ArtworkURL:   "https://i1.sndcdn.com/artworks-large.jpg",
		Duration:     243000,
		User:         model.SoundCloudUser{Username: "M83"},
		Media: model.SoundCloudMedia{Transcodings: []model.SoundCloudTranscoding{
			transcoding("progressive", "https://api-v2.soundcloud.com/media/1/stream/progressive"),
		}},
	}

	track := FormatTrack(raw)

	if track.Title != "Midnight City" {
		t.Errorf("title = %q", track.Title)
	}
	if track.Artist != "M83" {
		t.Errorf("artist = %q", track.Artist)
	}
	if track.Duration != "4:03" {
		t.Errorf("duration = %q, want 4:03", track.Duration)
	}
	if track.Provider != model.TransferProgressive {
		t.Errorf("transfer mode = %q, want progressive", track.Provider)
	}

	// 标识必须能通过 URL 转义往返还原为 permalink
	decoded, err := url.QueryUnescape(track.ID)
	if err != nil {
		t.Fatalf("unescape id: %v", err)
	}
	if decoded != raw.PermalinkURL {
		t.Errorf("id round-trip = %q, want %q", decoded, raw.PermalinkURL)
	}
}

func TestFormatTrackPlaceholders(t *testing.T) {
	raw := model.SoundCloudTrack{
		Title:        "Untitled",
		PermalinkURL: "https://soundcloud.com/unknown/untitled",
	}

	track := FormatTrack(raw)

	if track.Artist != PlaceholderArtist {
		t.Errorf("artist = %q, want placeholder", track.Artist)
	}
	if track.Thumbnail != PlaceholderThumbnail {
		t.Errorf("thumbnail = %q, want placeholder", track.Thumbnail)
	}
	if track.Duration != PlaceholderDuration {
		t.Errorf("duration = %q, want %q", track.Duration, PlaceholderDuration)
	}
	if track.Provider != model.TransferSegmented {
		t.Errorf("transfer mode = %q, want segmented when no progressive transcoding", track.Provider)
	}
}

func TestFormatTrackArtistFallbackToFullName(t *testing.T) {
	raw := model.SoundCloudTrack{
		Title:        "Song",
		PermalinkURL: "https://soundcloud.com/x/song",
		User:         model.SoundCloudUser{FullName: "Jane Doe"},
	}

	if got := FormatTrack(raw).Artist; got != "Jane Doe" {
		t.Errorf("artist = %q, want full name fallback", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{1000, "0:01"},
		{59999, "0:59"},
		{60000, "1:00"},
		{243000, "4:03"},
		{3723000, "62:03"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestDeliveryMode(t *testing.T) {
	tests := []struct {
		name         string
		transcodings []model.SoundCloudTranscoding
		want         model.TransferMode
	}{
		{
			name: "progressive available",
			transcodings: []model.SoundCloudTranscoding{
				transcoding("hls", "https://api/media/hls"),
				transcoding("progressive", "https://api/media/progressive"),
			},
			want: model.TransferProgressive,
		},
		{
			name: "progressive url pointing at hls manifest",
			transcodings: []model.SoundCloudTranscoding{
				transcoding("progressive", "https://api/media/hls/manifest"),
			},
			want: model.TransferSegmented,
		},
		{
			name:         "no transcodings",
			transcodings: nil,
			want:         model.TransferSegmented,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deliveryMode(tt.transcodings); got != tt.want {
				t.Errorf("deliveryMode() = %q, want %q", got, tt.want)
			}
		})
	}
}
