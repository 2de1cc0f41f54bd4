package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/guard"
)

// PauseSecretHeader carries the shared secret of the emergency-pause endpoint.
const PauseSecretHeader = "X-Pause-Secret"

type emergencyPauseRequest struct {
	Target   string `json:"target"`
	VulnHash string `json:"vulnHash"`
	Source   string `json:"source"`
}

type emergencyPauseResponse struct {
	Success       bool   `json:"success"`
	TxHash        string `json:"txHash,omitempty"`
	AlreadyPaused bool   `json:"alreadyPaused,omitempty"`
	DryRun        bool   `json:"dryRun,omitempty"`
	RecordID      string `json:"recordId,omitempty"`
	ErrorClass    string `json:"errorClass,omitempty"`
	Error         string `json:"error,omitempty"`
}

// handleEmergencyPause handles POST /api/v1/emergency-pause. It is
// authenticated by the pause secret rather than an API key.
func (s *Server) handleEmergencyPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine.Config.Server.PauseSecret == "" {
		writeJSON(w, http.StatusServiceUnavailable, emergencyPauseResponse{Error: "emergency pause is not configured"})
		return
	}
	if !s.engine.Config.ValidatePauseSecret(r.Header.Get(PauseSecretHeader)) {
		s.logger.Warn().Str("ip", r.RemoteAddr).Msg("emergency pause rejected: bad secret")
		writeJSON(w, http.StatusUnauthorized, emergencyPauseResponse{Error: "invalid pause secret"})
		return
	}

	var req emergencyPauseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, emergencyPauseResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	rec, err := s.engine.EmergencyPause(r.Context(), req.Target, req.VulnHash, req.Source)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, guard.ErrInvalidPauseRequest) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, emergencyPauseResponse{Error: err.Error()})
		return
	}

	resp := emergencyPauseResponse{
		Success:       rec.Succeeded(),
		TxHash:        rec.TxHash,
		AlreadyPaused: rec.Status == core.PauseStatusAlreadyPaused,
		DryRun:        rec.Status == core.PauseStatusDryRun,
		RecordID:      rec.ID,
		ErrorClass:    rec.ErrorClass,
		Error:         rec.Error,
	}
	status := http.StatusOK
	switch {
	case rec.Status == core.PauseStatusPending:
		status = http.StatusAccepted
	case !rec.Succeeded():
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}
