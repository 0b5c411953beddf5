package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mdelaney/choreplan/internal/backup"
	"github.com/mdelaney/choreplan/internal/chore"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
	"github.com/mdelaney/choreplan/internal/websocket"
)

type SyncHandler struct {
	manager   *backup.Manager
	snapshots *store.SnapshotStore
	settings  *store.SettingsStore
	mat       *chore.Materializer
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewSyncHandler(m *backup.Manager, ss *store.SnapshotStore, set *store.SettingsStore, mat *chore.Materializer, hub *websocket.Hub, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{manager: m, snapshots: ss, settings: set, mat: mat, hub: hub, logger: logger}
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *SyncHandler) Settings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSyncSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sync settings")
		return
	}
	// The salt is an implementation detail; clients only need the toggles.
	delete(settings, "sync_passphrase_salt")
	writeJSON(w, http.StatusOK, settings)
}

type enableSyncRequest struct {
	Passphrase   string `json:"passphrase"`
	IntervalDays int    `json:"intervalDays"`
}

func (h *SyncHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req enableSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Passphrase) < 8 {
		writeError(w, http.StatusBadRequest, "passphrase must be at least 8 characters")
		return
	}

	if err := h.manager.EnableSync(req.Passphrase, req.IntervalDays); err != nil {
		h.logger.Error("enable sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enable sync")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (h *SyncHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DisableSync(); err != nil {
		h.logger.Error("disable sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disable sync")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

type syncNowRequest struct {
	Passphrase string `json:"passphrase"`
}

func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	var req syncNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "passphrase is required")
		return
	}

	id, err := h.manager.SyncNow(r.Context(), req.Passphrase)
	if err != nil {
		h.logger.Error("sync now", "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.manager.CachePassphrase(req.Passphrase)

	snapshot, err := h.snapshots.GetByID(id)
	if err != nil || snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]int64{"snapshotId": id})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *SyncHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.snapshots.List(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

type restoreRequest struct {
	SnapshotID int64  `json:"snapshotId"`
	Passphrase string `json:"passphrase"`
}

// Restore pulls a snapshot down and replaces all local data with it.
func (h *SyncHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SnapshotID == 0 || req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "snapshotId and passphrase are required")
		return
	}

	if err := h.manager.Restore(r.Context(), req.SnapshotID, req.Passphrase); err != nil {
		h.logger.Error("restore", "snapshot_id", req.SnapshotID, "error", err)
		writeError(w, http.StatusInternalServerError, "restore failed, data unchanged")
		return
	}

	if err := h.mat.Load(); err != nil {
		h.logger.Error("reload after restore", "error", err)
		writeError(w, http.StatusInternalServerError, "restored, but reload failed")
		return
	}
	if err := h.mat.GenerateAll(0); err != nil {
		h.logger.Error("generate after restore", "error", err)
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntitySnapshot, "restored", req.SnapshotID, nil))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
