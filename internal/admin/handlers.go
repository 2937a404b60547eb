package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v3"

	"github.com/florianilch/tokenward/internal/manager"
)

// statusResponse combines the manager's diagnostics with refresher liveness.
type statusResponse struct {
	manager.Diagnostics
	RefresherAlive bool `json:"refresher_alive"`
}

// refreshResponse reports per-key outcomes of a forced refresh pass.
type refreshResponse struct {
	Results map[string]refreshOutcome `json:"results"`
}

type refreshOutcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func newRouter(m *manager.Manager, refresher *manager.Refresher, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(httplog.RequestLogger(log, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Admin responses carry token metadata; keep bodies and headers out
		// of the logs.
		LogRequestHeaders:  []string{"Content-Type"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	}))
	r.Use(recovery)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Diagnostics:    m.Diagnostics(),
			RefresherAlive: refresher.Alive(),
		})
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		results := m.RefreshAll(r.Context())

		resp := refreshResponse{Results: make(map[string]refreshOutcome, len(results))}
		status := http.StatusOK
		for key, err := range results {
			o := refreshOutcome{OK: err == nil}
			if err != nil {
				o.Error = err.Error()
				status = http.StatusMultiStatus
			}
			resp.Results[key] = o
		}
		writeJSON(w, status, resp)
	})

	return r
}

// recovery recovers from panics in HTTP handlers and returns HTTP 500 to the client.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				// Logging of panics is handled in the request logger
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
