package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/motioncare/coachd/pkg/coach/journal"
	"github.com/motioncare/coachd/pkg/coach/remote"
	"github.com/motioncare/coachd/pkg/coach/resource"
	"github.com/motioncare/coachd/pkg/coach/session"
)

const maxControlBodyBytes = 64 << 10

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: message}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxControlBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body: "+err.Error())
		return false
	}
	return true
}

// writeSessionError maps coordinator failures onto the control API error
// taxonomy.
func writeSessionError(w http.ResponseWriter, err error) {
	var transportErr *session.TransportError
	switch {
	case errors.Is(err, resource.ErrUnavailable):
		writeError(w, http.StatusConflict, "resource_unavailable", "microphone pipeline could not be acquired")
	case errors.As(err, &transportErr):
		writeError(w, http.StatusBadGateway, "transport_error", transportErr.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "daemon is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out waiting for the session transition")
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining"`
	}
	draining := s.life.IsDraining()
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{OK: !draining, Draining: draining})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var req struct {
		Agent string `json:"agent"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := session.ParseAgentKind(req.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_agent", err.Error())
		return
	}

	if err := s.coordinator.Start(r.Context(), kind); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if err := s.coordinator.Stop(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal_disabled", "session journal is not configured")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer in [1,500]")
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

func (s *Server) handleExercisesGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if s.api == nil || !s.api.Configured() {
		writeError(w, http.StatusNotImplemented, "api_disabled", "cloud api is not configured")
		return
	}
	exercises, err := s.api.GenerateExercises(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if exercises == nil {
		exercises = []remote.Exercise{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exercises": exercises})
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if s.api == nil || !s.api.Configured() {
		writeError(w, http.StatusNotImplemented, "api_disabled", "cloud api is not configured")
		return
	}
	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.api.RegisterPushToken(r.Context(), req.Token, req.Platform); err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimezone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use PUT")
		return
	}
	if s.api == nil || !s.api.Configured() {
		writeError(w, http.StatusNotImplemented, "api_disabled", "cloud api is not configured")
		return
	}
	var req struct {
		Timezone string `json:"timezone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.api.UpdateTimezone(r.Context(), req.Timezone); err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
		code := apiErr.Code
		if code == "" {
			code = "upstream_error"
		}
		writeError(w, status, code, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}
