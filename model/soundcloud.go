package model

// SoundCloudUser 歌曲作者信息
type SoundCloudUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// SoundCloudTranscoding 一种可用的音频交付方式
// Protocol 为 "progressive"（整段字节流）或 "hls"（分片清单）
type SoundCloudTranscoding struct {
	URL    string `json:"url"`
	Preset string `json:"preset"`
	Format struct {
		Protocol string `json:"protocol"`
		MimeType string `json:"mime_type"`
	} `json:"format"`
}

// SoundCloudMedia 歌曲的全部交付方式
type SoundCloudMedia struct {
	Transcodings []SoundCloudTranscoding `json:"transcodings"`
}

// SoundCloudTrack SoundCloud API 返回的原始歌曲结构
type SoundCloudTrack struct {
	ID           int64           `json:"id"`
	Kind         string          `json:"kind"`
	Title        string          `json:"title"`
	PermalinkURL string          `json:"permalink_url"`
	ArtworkURL   string          `json:"artwork_url"`
	Duration     int64           `json:"duration"` // 毫秒
	User         SoundCloudUser  `json:"user"`
	Media        SoundCloudMedia `json:"media"`
}

// SoundCloudSearchResult 搜索接口的响应
type SoundCloudSearchResult struct {
	Collection []SoundCloudTrack `json:"collection"`
	TotalCount int               `json:"total_results"`
}
