package valuecache

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugResponse represents the JSON response structure for debug endpoints
type DebugResponse struct {
	LastIcn int64        `json:"lastIcn"`
	Stats   *DebugStats  `json:"stats"`
	Caches  []DebugCache `json:"caches,omitempty"`
}

// DebugStats represents manager statistics in the debug response
type DebugStats struct {
	Loads         int64        `json:"loads"`
	LoadedItems   int64        `json:"loadedItems"`
	Borrows       int64        `json:"borrows"`
	OutdatedMarks int64        `json:"outdatedMarks"`
	CatchUps      int64        `json:"catchUps"`
	Aborts        int64        `json:"aborts"`
	LoadErrors    int64        `json:"loadErrors"`
	Caches        int64        `json:"caches"`
	Backlog       int64        `json:"backlog"`
	Config        *DebugConfig `json:"config"`
}

// DebugConfig represents manager configuration in the debug response
type DebugConfig struct {
	HurryGrace time.Duration `json:"hurryGrace"`
	InitialIcn int64         `json:"initialIcn"`
}

// DebugCache describes one cache of the manager
type DebugCache struct {
	Items      int                   `json:"items"`
	FreeRows   int                   `json:"freeRows"`
	Attributes []DebugCacheAttribute `json:"attributes"`
}

// DebugCacheAttribute is the outdated count of one attribute column
type DebugCacheAttribute struct {
	Name     string `json:"name"`
	Outdated int    `json:"outdated"`
}

// DebugHandler returns an HTTP handler that provides manager debug information
// The handler supports the following endpoints:
//   - GET /stats - Returns only statistics (no caches)
//   - GET /caches - Returns statistics and every cache with its attribute backlog
//   - GET / - Same as /caches
func (m *Manager) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		var response DebugResponse
		includeCaches := r.URL.Path == "/" || r.URL.Path == "/caches"

		response.Stats = &DebugStats{
			Loads:         m.stats.Loads(),
			LoadedItems:   m.stats.LoadedItems(),
			Borrows:       m.stats.Borrows(),
			OutdatedMarks: m.stats.OutdatedMarks(),
			CatchUps:      m.stats.CatchUps(),
			Aborts:        m.stats.Aborts(),
			LoadErrors:    m.stats.LoadErrors(),
			Caches:        m.stats.Caches(),
			Backlog:       m.stats.Backlog(),
			Config: &DebugConfig{
				HurryGrace: m.config.HurryGrace,
				InitialIcn: m.config.InitialIcn,
			},
		}

		m.mu.Lock()
		response.LastIcn = m.lastIcn
		if includeCaches {
			response.Caches = make([]DebugCache, 0, len(m.caches))
			for _, c := range m.caches {
				dc := DebugCache{
					Items:      len(c.items),
					FreeRows:   len(c.freeRows),
					Attributes: make([]DebugCacheAttribute, 0, len(c.attrs)),
				}
				for column, attr := range c.attrs {
					dc.Attributes = append(dc.Attributes, DebugCacheAttribute{
						Name:     attr.Name(),
						Outdated: c.outdated[column].Len(),
					})
				}
				response.Caches = append(response.Caches, dc)
			}
		}
		m.mu.Unlock()

		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		}
	})
}

// NewDebugServer creates a new HTTP server with manager debug endpoints
func (m *Manager) NewDebugServer(addr string) *http.Server {
	mux := http.NewServeMux()
	handler := m.DebugHandler()

	mux.Handle("/stats", handler)
	mux.Handle("/caches", handler)
	mux.Handle("/", handler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
