package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Loader makes a catalog definition the active agent.
type Loader interface {
	Load(ctx context.Context, name string) (*Agent, error)
}

// Handler provides HTTP handlers for the /agents endpoints.
type Handler struct {
	catalog Catalog
	loader  Loader
}

// NewHandler creates a new agent handler.
func NewHandler(catalog Catalog, loader Loader) *Handler {
	return &Handler{catalog: catalog, loader: loader}
}

// Routes returns a chi.Router with all agent routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Post("/{name}/load", h.HandleLoad)
	return r
}

// HandleList handles GET /agents.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.catalog.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"agents": names})
}

// HandleLoad handles POST /agents/{name}/load. Any load failure is a 400.
func (h *Handler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, err := h.loader.Load(r.Context(), name)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			handleServiceError(w, err)
			return
		}
		slog.Warn("agent: load failed", slog.String("agent", name), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "agent": a.Name()})
}

// --- response types ---

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		slog.Error("agent handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
