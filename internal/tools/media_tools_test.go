package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MaartenKnaepen/home-agent/internal/jellyseerr"
	"github.com/MaartenKnaepen/home-agent/internal/profile"

	_ "modernc.org/sqlite"
)

func setupMediaSession(t *testing.T, handler http.Handler) (*Registry, *Session) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	profiles, err := profile.NewStore(db, "English", nil)
	if err != nil {
		t.Fatalf("new profile store: %v", err)
	}
	p, err := profiles.Get(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}

	media := jellyseerr.New(srv.URL, "test-key", nil)
	registry := NewRegistry(media, nil)
	return registry, &Session{Profile: p, Profiles: profiles}
}

func TestSearchMedia(t *testing.T) {
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": 693134, "mediaType": "movie", "title": "Dune: Part Two", "releaseDate": "2024-02-27"},
			},
		})
	}))

	out, err := registry.Execute(context.Background(), sess, "search_media", map[string]any{"query": "dune"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Dune: Part Two") || !strings.Contains(out, "id=693134") {
		t.Errorf("output missing result details:\n%s", out)
	}
	if !strings.Contains(out, "(2024)") {
		t.Errorf("output missing year:\n%s", out)
	}
}

func TestSearchMedia_NoResults(t *testing.T) {
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))

	out, err := registry.Execute(context.Background(), sess, "search_media", map[string]any{"query": "zxqv"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "No results") {
		t.Errorf("output = %q", out)
	}
}

func TestSearchMedia_CapsResultList(t *testing.T) {
	var many []map[string]any
	for i := 0; i < 20; i++ {
		many = append(many, map[string]any{"id": i, "mediaType": "movie", "title": "Movie"})
	}
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": many})
	}))

	out, err := registry.Execute(context.Background(), sess, "search_media", map[string]any{"query": "movie"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	lines := strings.Count(out, "\n- [")
	if lines > 8 {
		t.Errorf("result list not capped: %d entries", lines)
	}
}

func TestRequestMedia_CountsRequestOnProfile(t *testing.T) {
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 17, "status": 1})
	}))
	ctx := context.Background()

	out, err := registry.Execute(ctx, sess, "request_media", map[string]any{
		"media_id":   float64(693134),
		"media_type": "movie",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Request #17") || !strings.Contains(out, "pending approval") {
		t.Errorf("output = %q", out)
	}

	stored, err := sess.Profiles.Get(ctx, 1, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Stats["requests_made"] != 1 {
		t.Errorf("requests_made = %d, want 1", stored.Stats["requests_made"])
	}
}

func TestRequestMedia_SeasonForwarded(t *testing.T) {
	var gotBody map[string]any
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": 21, "status": 1})
	}))

	_, err := registry.Execute(context.Background(), sess, "request_media", map[string]any{
		"media_id":   float64(90228),
		"media_type": "tv",
		"season":     float64(2),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	seasons, ok := gotBody["seasons"].([]any)
	if !ok || len(seasons) != 1 || seasons[0] != float64(2) {
		t.Errorf("seasons payload = %v, want [2]", gotBody["seasons"])
	}
}

func TestRequestMedia_MissingArgs(t *testing.T) {
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if _, err := registry.Execute(context.Background(), sess, "request_media", map[string]any{"media_type": "movie"}); err == nil {
		t.Error("expected error for missing media_id")
	}
	if _, err := registry.Execute(context.Background(), sess, "request_media", map[string]any{"media_id": float64(1)}); err == nil {
		t.Error("expected error for missing media_type")
	}
}

func TestRequestStatus(t *testing.T) {
	registry, sess := setupMediaSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": 17, "status": 2,
			"media": map[string]any{"id": 5, "mediaType": "movie", "status": 5},
		})
	}))

	out, err := registry.Execute(context.Background(), sess, "request_status", map[string]any{"request_id": float64(17)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "approved") || !strings.Contains(out, "available") {
		t.Errorf("output = %q", out)
	}
}

func TestMediaTools_NoClientConfigured(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sess := &Session{}

	for _, name := range []string{"search_media", "request_media", "request_status"} {
		if _, err := registry.Execute(context.Background(), sess, name, map[string]any{}); err == nil {
			t.Errorf("%s: expected error without media client", name)
		}
	}
}
