package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentfi/agentfi-social-agent/internal/actions"
	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/engine"
	"github.com/agentfi/agentfi-social-agent/internal/gate"
	"github.com/agentfi/agentfi-social-agent/pkg/config"
)

// ErrJournalDisabled is returned by GET /agent/journal without a database.
var ErrJournalDisabled = errors.New("server: action journal not configured")

// JournalReader lists recorded action outcomes.
type JournalReader interface {
	ListJournal(ctx context.Context, agentName string, limit int) ([]actions.Entry, error)
}

// Handler serves GET / and the /agent endpoints.
type Handler struct {
	rt      *Runtime
	journal JournalReader
}

// NewHandler creates the agent control handler. journal may be nil.
func NewHandler(rt *Runtime, journal JournalReader) *Handler {
	return &Handler{rt: rt, journal: journal}
}

// Routes returns the routes mounted under /agent.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/action", h.HandleAction)
	r.Post("/start", h.HandleStart)
	r.Post("/stop", h.HandleStop)
	r.Post("/post-tweet", h.HandlePostTweet)
	r.Post("/post-with-image", h.HandlePostWithImage)
	r.Post("/reply-to-tweet", h.HandleReplyToTweet)
	r.Post("/like-tweet", h.HandleLikeTweet)
	r.Get("/journal", h.HandleJournal)
	return r
}

// HandleStatus handles GET /.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rt.Status())
}

type actionRequest struct {
	Connection string `json:"connection"`
	Action     string `json:"action"`
	Params     []any  `json:"params"`
}

// HandleAction handles POST /agent/action. Every failure is a 400.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if _, err := h.rt.Agent(); err != nil {
		handleServiceError(w, err)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Connection == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "connection and action are required")
		return
	}

	result, err := h.rt.Connections().Perform(r.Context(), req.Connection, req.Action, req.Params)
	if err != nil {
		slog.Warn("server: action failed",
			slog.String("connection", req.Connection),
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": result})
}

func (h *Handler) HandleStart(w http.ResponseWriter, _ *http.Request) {
	if err := h.rt.Start(); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Agent loop started"})
}

func (h *Handler) HandleStop(w http.ResponseWriter, _ *http.Request) {
	if err := h.rt.Stop(); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Agent loop stopped"})
}

type tweetRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) HandlePostTweet(w http.ResponseWriter, r *http.Request) {
	h.runPost(w, r, h.rt.Actions().PostTweet)
}

func (h *Handler) HandlePostWithImage(w http.ResponseWriter, r *http.Request) {
	h.runPost(w, r, h.rt.Actions().PostWithImage)
}

func (h *Handler) HandleReplyToTweet(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.rt.Actions().ReplyToTweet)
}

func (h *Handler) HandleLikeTweet(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.rt.Actions().LikeTweet)
}

// runPost decodes the optional {"prompt"} body. An empty body is no prompt.
func (h *Handler) runPost(w http.ResponseWriter, r *http.Request, fn func(context.Context, *agent.Agent, string) (*actions.Result, error)) {
	var req tweetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	h.run(w, r, func(ctx context.Context, a *agent.Agent) (*actions.Result, error) {
		return fn(ctx, a, req.Prompt)
	})
}

// run executes a composite action on the loaded agent. Skipped results are
// returned with 200 like successes.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, fn func(context.Context, *agent.Agent) (*actions.Result, error)) {
	a, err := h.rt.Agent()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	res, err := fn(r.Context(), a)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleJournal handles GET /agent/journal?limit=N.
func (h *Handler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", ErrJournalDisabled.Error())
		return
	}
	a, err := h.rt.Agent()
	if err != nil {
		handleServiceError(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := h.journal.ListJournal(r.Context(), a.Name(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": a.Name(), "entries": entries})
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
	case errors.Is(err, connection.ErrConnectionNotFound),
		errors.Is(err, agent.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrNoAgentLoaded),
		errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, gate.ErrInvalidConfig),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, agent.ErrValidation),
		errors.Is(err, connection.ErrNotConfigured),
		errors.Is(err, connection.ErrInvalidParams),
		errors.Is(err, connection.ErrActionNotSupported),
		errors.Is(err, connection.ErrActionExecutionFailed),
		errors.Is(err, connection.ErrGenerationFailed):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		slog.Error("server: handler error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
