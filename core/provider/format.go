package provider

import (
	"fmt"
	"net/url"
	"strings"

	"EchoFM/model"
)

// 可选字段缺失时的占位值
const (
	PlaceholderThumbnail = ""
	PlaceholderDuration  = "0:00"
	PlaceholderArtist    = "Unknown Artist"
)

// FormatTrack 将 SoundCloud 原始歌曲结构规整为统一的 Track
// 纯函数；可选字段缺失时使用占位值，不会失败
func FormatTrack(raw model.SoundCloudTrack) model.Track {
	artist := raw.User.Username
	if artist == "" {
		artist = raw.User.FullName
	}
	if artist == "" {
		artist = PlaceholderArtist
	}

	thumbnail := raw.ArtworkURL
	if thumbnail == "" {
		thumbnail = PlaceholderThumbnail
	}

	duration := PlaceholderDuration
	if raw.Duration > 0 {
		duration = FormatDuration(raw.Duration)
	}

	return model.Track{
		// permalink URL 经 URL 编码后作为标识，可通过 /api/audio/{id} 原样回传解析
		ID:        url.QueryEscape(raw.PermalinkURL),
		Title:     raw.Title,
		Artist:    artist,
		Thumbnail: thumbnail,
		Duration:  duration,
		URL:       raw.PermalinkURL,
		Provider:  deliveryMode(raw.Media.Transcodings),
	}
}

// FormatDuration 毫秒转 m:ss
func FormatDuration(ms int64) string {
	totalSec := ms / 1000
	m := totalSec / 60
	s := totalSec % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

// deliveryMode 根据可用交付方式判定歌曲的主交付模式
func deliveryMode(transcodings []model.SoundCloudTranscoding) model.TransferMode {
	for _, t := range transcodings {
		if t.Format.Protocol == "progressive" && !strings.Contains(t.URL, "/hls") {
			return model.TransferProgressive
		}
	}
	return model.TransferSegmented
}
