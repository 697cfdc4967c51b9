package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves the sign-in endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts POST /nonce and POST /verify.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/nonce", h.HandleNonce)
	r.Post("/verify", h.HandleVerify)
	return r
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type verifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Token string `json:"token"`
}

func (h *Handler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.svc.GenerateNonce(r.Context())
	if err != nil {
		slog.Error("auth: generate nonce failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to generate nonce")
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Message == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "message and signature are required")
		return
	}

	token, err := h.svc.VerifySIWE(r.Context(), req.Message, req.Signature)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{Token: token})
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrNonceNotFound):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, ErrNotOperator):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	default:
		slog.Error("auth: SIWE verification failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "verification failed")
	}
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
