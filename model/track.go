package model

// TransferMode describes how upstream audio for a track is delivered.
type TransferMode string

const (
	// TransferProgressive is a single continuous byte stream, range-seekable.
	TransferProgressive TransferMode = "progressive"
	// TransferSegmented is manifest-based chunked delivery (e.g. HLS).
	TransferSegmented TransferMode = "segmented"
)

// Track is the one track shape consumed by the queue, the playback engine
// and the search API. Instances are immutable once constructed; callers
// replace them rather than mutating fields.
type Track struct {
	ID        string       `json:"id"` // URL-safe identifier, round-trips through /api/audio/{id}
	Title     string       `json:"title"`
	Artist    string       `json:"artist"`
	Thumbnail string       `json:"thumbnail"`
	Duration  string       `json:"duration"` // m:ss display form; "0:00" when unknown
	URL       string       `json:"url"`      // Provider permalink URL
	Provider  TransferMode `json:"-"`
}

// StreamDescriptor is the per-request result of resolving a track id to an
// upstream audio source. Upstream URLs may embed short-lived signatures, so
// descriptors are scoped to one proxy request and never cached.
type StreamDescriptor struct {
	UpstreamURL   string
	TransferMode  TransferMode
	ContentLength int64 // -1 when unknown
}
