package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"EchoFM/core/provider"
	"EchoFM/model"
)

type fakeProvider struct {
	tracks []model.Track
	err    error
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int) ([]model.Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.tracks) > limit {
		return f.tracks[:limit], nil
	}
	return f.tracks, nil
}

func (f *fakeProvider) Resolve(ctx context.Context, trackID string) (*model.StreamDescriptor, error) {
	return nil, provider.ErrTrackNotFound
}

func (f *fakeProvider) Source() string { return "fake" }

func newTestHandler(p provider.Provider) *APIHandler {
	registry := provider.NewRegistry()
	registry.Register(p)
	return NewAPIHandler(registry, nil, nil, nil, 0)
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandler(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestSearchHandlerMissingQuery(t *testing.T) {
	h := newTestHandler(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w := httptest.NewRecorder()
	h.SearchHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("missing error field in body")
	}
}

func TestSearchHandlerLimitsResults(t *testing.T) {
	h := newTestHandler(&fakeProvider{tracks: []model.Track{
		{ID: "1", Title: "One"},
		{ID: "2", Title: "Two"},
		{ID: "3", Title: "Three"},
		{ID: "4", Title: "Four"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/search?query=test", nil)
	w := httptest.NewRecorder()
	h.SearchHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var tracks []model.Track
	if err := json.NewDecoder(w.Body).Decode(&tracks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(tracks))
	}
	for _, track := range tracks {
		if track.Title == "" {
			t.Errorf("empty title in %+v", track)
		}
	}
}

func TestSearchHandlerProviderFailure(t *testing.T) {
	h := newTestHandler(&fakeProvider{err: provider.ErrUpstreamUnavailable})

	req := httptest.NewRequest(http.MethodGet, "/api/search?query=test", nil)
	w := httptest.NewRecorder()
	h.SearchHandler(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "Failed to search tracks" {
		t.Errorf("error field = %q", body["error"])
	}
}

func TestSearchHandlerEmptyResultIsArray(t *testing.T) {
	h := newTestHandler(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/search?query=nothing", nil)
	w := httptest.NewRecorder()
	h.SearchHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}
