package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
)

const maxBodyBytes = 64 << 10

type handler struct {
	engine Engine
	logger *zap.Logger
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// start handles POST /v1/interviews. Without a session id a new one is issued.
func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	// An empty body, chunked or not, asks for a new session.
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = interview.NewSessionID()
	}

	question, err := h.engine.StartInterview(r.Context(), id)
	if err != nil {
		h.fail(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{SessionID: id, Question: question})
}

// answer handles POST /v1/interviews/{id}/answers.
func (h *handler) answer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	action, err := h.engine.SubmitAnswer(r.Context(), id, req.Answer)
	if err != nil {
		h.fail(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, action)
}

// abandon handles POST /v1/interviews/{id}/abandon.
func (h *handler) abandon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.AbandonInterview(r.Context(), id); err != nil {
		h.fail(w, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// status handles GET /v1/interviews/{id}.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.engine.Status(r.Context(), id)
	if err != nil {
		h.fail(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *handler) fail(w http.ResponseWriter, sessionID string, err error) {
	code, message := classify(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", append(logger.SessionFields(sessionID, ""), zap.Int("code", code), zap.Error(err))...)
	}
	writeError(w, code, message)
}

// classify maps engine errors to a status code and a message safe to show to the user.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, interview.ErrEmptyAnswer):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, interview.ErrNotFound):
		return http.StatusNotFound, "interview not found"
	case errors.Is(err, interview.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, interview.ErrPersistence):
		return http.StatusServiceUnavailable, "please try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
