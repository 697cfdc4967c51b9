package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler provides HTTP handlers for the /connections endpoints.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a new connection handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Routes returns a chi.Router with all connection routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Post("/{name}/configure", h.HandleConfigure)
	r.Get("/{name}/status", h.HandleStatus)
	r.Get("/{name}/balance", h.HandleBalance)
	return r
}

// HandleList handles GET /connections.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": h.mgr.Statuses(r.Context())})
}

// HandleConfigure handles POST /connections/{name}/configure. The body is
// either {"params": {...}} or a flat object of params.
func (h *Handler) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	params, ok := body["params"].(map[string]any)
	if !ok {
		params = body
		delete(params, "connection")
	}

	configured, err := h.mgr.Configure(r.Context(), name, params)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !configured {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("failed to configure %s", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Connection %s configured successfully", name),
	})
}

// HandleStatus handles GET /connections/{name}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.mgr.Status(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleBalance handles GET /connections/{name}/balance for connections that
// support the get-balance action.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c, ok := h.mgr.Get(name)
	if !ok {
		handleServiceError(w, fmt.Errorf("%w: %s", ErrConnectionNotFound, name))
		return
	}
	if !c.IsConfigured(r.Context()) {
		handleServiceError(w, fmt.Errorf("%w: %s", ErrNotConfigured, name))
		return
	}
	balance, err := h.mgr.Perform(r.Context(), name, "get-balance", nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "balance": balance})
}

// --- helpers ---

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

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
	case errors.Is(err, ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrActionNotSupported),
		errors.Is(err, ErrActionExecutionFailed):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		slog.Error("connection handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
