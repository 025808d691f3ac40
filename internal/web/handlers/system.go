package handlers

import (
	"net/http"

	"github.com/kozaktomas/facegate/internal/syncagent"
)

// SyncController is the sync agent as seen by the API.
type SyncController interface {
	State() syncagent.State
	Trigger()
	Online() bool
}

// SystemInfo describes the static parts of the terminal status.
type SystemInfo struct {
	TerminalID    string    `json:"terminal_id"`
	Driver        string    `json:"database_driver"`
	Finder        string    `json:"finder"`
	Tolerances    []float64 `json:"tolerances"`
	InstantMode   bool      `json:"instant_mode"`
	CooldownSec   float64   `json:"cooldown_seconds"`
	MinimumWorkMn float64   `json:"minimum_work_minutes"`
}

// SystemHandler reports terminal status and triggers sync.
type SystemHandler struct {
	sync SyncController
	info SystemInfo
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(sync SyncController, info SystemInfo) *SystemHandler {
	return &SystemHandler{sync: sync, info: info}
}

// StatusResponse combines the sync state with terminal settings.
type StatusResponse struct {
	SystemInfo
	Online bool            `json:"online"`
	Sync   syncagent.State `json:"sync"`
}

// Status returns the terminal status.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		SystemInfo: h.info,
		Online:     h.sync.Online(),
		Sync:       h.sync.State(),
	})
}

// TriggerSync requests an immediate cycle from the background sync loop.
func (h *SystemHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.sync.Online() {
		respondError(w, http.StatusServiceUnavailable, "remote authority not configured")
		return
	}
	if !h.sync.State().Running {
		respondError(w, http.StatusServiceUnavailable, "background sync is not running")
		return
	}
	h.sync.Trigger()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
