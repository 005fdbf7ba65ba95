package server

import (
	"net/http"
	"time"

	"lumosai/services/assistant/internal/app"
)

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.UsageSummary(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMonitoringStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.MonitoringStats(r.Context(), r.URL.Query().Get("window"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMonitoringHourly(w http.ResponseWriter, r *http.Request) {
	hours, ok := queryInt(r, "hours")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "hours must be an integer")
		return
	}
	buckets, err := s.app.MonitoringHourly(r.Context(), hours)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleMonitoringRecent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "limit must be an integer")
		return
	}
	calls, err := s.app.MonitoringRecent(r.Context(), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.app.Profile(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type profileRequest struct {
	Name     *string        `json:"name"`
	Email    *string        `json:"email"`
	PhotoURL *string        `json:"photoUrl"`
	Settings map[string]any `json:"settings"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.app.UpdateProfile(r.Context(), app.ProfilePatch{
		Name:     req.Name,
		Email:    req.Email,
		PhotoURL: req.PhotoURL,
		Settings: req.Settings,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
