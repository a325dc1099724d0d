package valuecache

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDebugHandler(t *testing.T) {
	m, _ := newTestManager(t, nil)
	attr := newObjectAttribute("name", map[int64]any{1: "a"})
	c := m.NewCache(nil)
	_ = c.AddAttributes(attr)
	_ = c.AddItems([]int64{1, 2})
	if err := runJob(m, &testTx{icn: 4}, &testState{cancelled: true}); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	handler := m.DebugHandler()

	t.Run("StatsOnly", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/stats", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if w.Header().Get("Content-Type") != "application/json" {
			t.Fatalf("Expected JSON content type, got %s", w.Header().Get("Content-Type"))
		}

		var response DebugResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response.LastIcn != 4 {
			t.Fatalf("Expected watermark 4, got %d", response.LastIcn)
		}
		if response.Stats.Caches != 1 || response.Stats.Aborts != 1 {
			t.Fatalf("Unexpected stats: %+v", response.Stats)
		}
		if response.Stats.Config.HurryGrace != DefaultHurryGrace {
			t.Fatalf("Expected default hurry grace, got %v", response.Stats.Config.HurryGrace)
		}
		if len(response.Caches) != 0 {
			t.Fatalf("Expected no caches in /stats endpoint, got %d", len(response.Caches))
		}
	})

	t.Run("CachesEndpoint", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/caches", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		var response DebugResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if len(response.Caches) != 1 {
			t.Fatalf("Expected 1 cache, got %d", len(response.Caches))
		}
		cache := response.Caches[0]
		if cache.Items != 2 {
			t.Fatalf("Expected 2 items, got %d", cache.Items)
		}
		if len(cache.Attributes) != 1 || cache.Attributes[0].Name != "name" || cache.Attributes[0].Outdated != 2 {
			t.Fatalf("Unexpected attributes: %+v", cache.Attributes)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("Expected status 405, got %d", w.Code)
		}
	})
}

func TestNewDebugServer(t *testing.T) {
	m, _ := newTestManager(t, nil)
	server := m.NewDebugServer(":0")

	if server.Addr != ":0" {
		t.Fatalf("Expected addr :0, got %s", server.Addr)
	}
	if server.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("Expected 10s header timeout, got %v", server.ReadHeaderTimeout)
	}

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}
