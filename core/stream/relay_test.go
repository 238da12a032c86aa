package stream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"EchoFM/core/provider"
	"EchoFM/model"
)

type fakeResolver struct {
	desc *model.StreamDescriptor
	err  error
}

func (f *fakeResolver) Search(ctx context.Context, query string, limit int) ([]model.Track, error) {
	return nil, nil
}

func (f *fakeResolver) Resolve(ctx context.Context, trackID string) (*model.StreamDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.desc, nil
}

func (f *fakeResolver) Source() string { return "fake" }

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Lookup(ctx context.Context, trackID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[trackID]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (c *fakeCache) Store(ctx context.Context, trackID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[trackID] = append([]byte(nil), data...)
	return nil
}

func testBody(n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = byte(i % 251)
	}
	return body
}

// ignoreRangeUpstream 模拟不支持 Range 的上游，总是整段 200
func ignoreRangeUpstream(body []byte, hits *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

// honorRangeUpstream 模拟支持 Range 的上游
func honorRangeUpstream(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}

		spec, err := ParseRange(rangeHeader)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		start, end, err := spec.Resolve(int64(len(body)))
		if err != nil {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func serveTrack(t *testing.T, relay *Relay, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/audio/track1", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	relay.ServeTrack(w, req, "track1")
	return w
}

func progressiveDesc(url string) *model.StreamDescriptor {
	return &model.StreamDescriptor{
		UpstreamURL:   url,
		TransferMode:  model.TransferProgressive,
		ContentLength: -1,
	}
}

func TestServeTrackFullContent(t *testing.T) {
	body := testBody(1000)
	hits := 0
	upstream := ignoreRangeUpstream(body, &hits)
	defer upstream.Close()

	cache := newFakeCache()
	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, cache, 64<<20)

	w := serveTrack(t, relay, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", got)
	}
	if got := w.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
	if !bytes.Equal(w.Body.Bytes(), body) {
		t.Errorf("body mismatch: got %d bytes, want %d", w.Body.Len(), len(body))
	}

	// 完整传输后应入缓存
	cached, _ := cache.Lookup(context.Background(), "track1")
	if !bytes.Equal(cached, body) {
		t.Errorf("cache entry mismatch: got %d bytes, want %d", len(cached), len(body))
	}
}

func TestServeTrackSecondHitFromCache(t *testing.T) {
	body := testBody(1000)
	hits := 0
	upstream := ignoreRangeUpstream(body, &hits)
	defer upstream.Close()

	cache := newFakeCache()
	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, cache, 64<<20)

	serveTrack(t, relay, "")
	if hits != 1 {
		t.Fatalf("upstream hits = %d, want 1", hits)
	}

	w := serveTrack(t, relay, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), body) {
		t.Errorf("cached body mismatch")
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d after cache hit, want 1", hits)
	}
}

func TestServeTrackRangeFromCache(t *testing.T) {
	body := testBody(1000)
	cache := newFakeCache()
	cache.Store(context.Background(), "track1", body)

	relay := NewRelay(&fakeResolver{err: provider.ErrUpstreamUnavailable}, cache, 64<<20)

	w := serveTrack(t, relay, "bytes=100-199")
	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), body[100:200]) {
		t.Errorf("slice mismatch")
	}
}

func TestServeTrackUpstreamHonorsRange(t *testing.T) {
	body := testBody(1000)
	upstream := honorRangeUpstream(body)
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)

	w := serveTrack(t, relay, "bytes=200-299")
	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 200-299/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), body[200:300]) {
		t.Errorf("slice mismatch")
	}
}

func TestServeTrackUpstreamIgnoresRange(t *testing.T) {
	body := testBody(1000)
	hits := 0
	upstream := ignoreRangeUpstream(body, &hits)
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)

	w := serveTrack(t, relay, "bytes=100-199")
	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), body[100:200]) {
		t.Errorf("slice mismatch: got %d bytes", w.Body.Len())
	}
}

func TestServeTrackUnknownLengthBoundedRange(t *testing.T) {
	body := testBody(1000)
	// 不声明 Content-Length，强制分块传输
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		w.Write(body[:500])
		flusher.Flush()
		w.Write(body[500:])
	}))
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)

	w := serveTrack(t, relay, "bytes=100-199")
	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 100-199/*" {
		t.Errorf("Content-Range = %q, want total *", got)
	}
	if !bytes.Equal(w.Body.Bytes(), body[100:200]) {
		t.Errorf("slice mismatch")
	}
}

func TestServeTrackRangeNotSatisfiable(t *testing.T) {
	body := testBody(1000)
	hits := 0
	upstream := ignoreRangeUpstream(body, &hits)
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)

	w := serveTrack(t, relay, "bytes=5000-")
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("Content-Range = %q, want bytes */1000", got)
	}
}

func TestServeTrackSuffixRangeNotImplemented(t *testing.T) {
	hits := 0
	upstream := ignoreRangeUpstream(testBody(10), &hits)
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)

	w := serveTrack(t, relay, "bytes=-500")
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", w.Code)
	}
	if hits != 0 {
		t.Errorf("upstream hits = %d, want 0", hits)
	}
}

func TestServeTrackNotFound(t *testing.T) {
	relay := NewRelay(&fakeResolver{err: provider.ErrTrackNotFound}, nil, 64<<20)

	w := serveTrack(t, relay, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestServeTrackUpstreamUnavailable(t *testing.T) {
	relay := NewRelay(&fakeResolver{err: provider.ErrUpstreamUnavailable}, nil, 64<<20)

	w := serveTrack(t, relay, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestServeTrackClientDisconnectCancelsUpstream(t *testing.T) {
	started := make(chan struct{})
	upstreamDone := make(chan struct{})
	// 上游先发部分数据，然后挂起等待取消
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(testBody(1024))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
		close(upstreamDone)
	}))
	defer upstream.Close()

	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, nil, 64<<20)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.ServeTrack(w, r, "track1")
	}))
	defer proxy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, proxy.URL+"/api/audio/track1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	<-started
	cancel()

	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not cancelled after client disconnect")
	}
}

func TestServeTrackOversizedNotCached(t *testing.T) {
	body := testBody(1000)
	hits := 0
	upstream := ignoreRangeUpstream(body, &hits)
	defer upstream.Close()

	cache := newFakeCache()
	relay := NewRelay(&fakeResolver{desc: progressiveDesc(upstream.URL)}, cache, 100)

	w := serveTrack(t, relay, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), body) {
		t.Errorf("body mismatch")
	}

	if cached, _ := cache.Lookup(context.Background(), "track1"); cached != nil {
		t.Errorf("oversized transfer was cached (%d bytes)", len(cached))
	}
}
