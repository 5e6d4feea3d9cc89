package handler

import (
	"net/http"

	"github.com/sascha1337/wasmd-indexer/internal/computation"
	"github.com/sascha1337/wasmd-indexer/internal/state"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler holds the dependencies for API handlers.
type Handler struct {
	Cache  *computation.Cache
	State  *state.Store
	Logger *zap.Logger
}

// NewHandler creates a new Handler instance.
func NewHandler(cache *computation.Cache, st *state.Store, logger *zap.Logger) *Handler {
	return &Handler{Cache: cache, State: st, Logger: logger}
}

// NewRouter creates and configures the HTTP router with all API routes.
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/formulas/{name}", h.HandleCompute).Methods(http.MethodGet)

	return r
}

// HandleHealth returns a simple health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
