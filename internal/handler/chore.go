package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mdelaney/choreplan/internal/chore"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/recurrence"
	"github.com/mdelaney/choreplan/internal/websocket"
)

type ChoreHandler struct {
	mat    *chore.Materializer
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewChoreHandler(mat *chore.Materializer, hub *websocket.Hub, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{mat: mat, hub: hub, logger: logger}
}

func (h *ChoreHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type choreRequest struct {
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	CategoryID            *int64           `json:"categoryId"`
	TimeSlot              *string          `json:"timeSlot"`
	Recurrence            *recurrence.Rule `json:"recurrence"`
	ReminderMinutesBefore *int             `json:"reminderMinutesBefore"`
	Date                  string           `json:"date"` // one-off chores only
}

func (r *choreRequest) validate() string {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return "title is required"
	}
	if !validTimeSlot(r.TimeSlot) {
		return "timeSlot must be HH:MM"
	}
	if r.ReminderMinutesBefore != nil && *r.ReminderMinutesBefore < 0 {
		return "reminderMinutesBefore must not be negative"
	}
	if r.Date != "" {
		if _, err := recurrence.ParseDate(r.Date); err != nil {
			return "date must be YYYY-MM-DD"
		}
	}
	return ""
}

func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	chores := h.mat.Chores()
	if chores == nil {
		chores = []model.Chore{}
	}
	writeJSON(w, http.StatusOK, chores)
}

func (h *ChoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	c := h.mat.ChoreByID(id)
	if c == nil {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := h.mat.AddChore(req.Title, req.Description, req.CategoryID, req.TimeSlot, req.Recurrence, req.ReminderMinutesBefore, req.Date)
	if err != nil {
		h.logger.Error("create chore", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create chore")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityChore, "created", c.ID, nil))
	writeJSON(w, http.StatusCreated, c)
}

// Update edits the chore template only. Existing occurrences keep their
// dates; use Future to reshape the upcoming schedule.
func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := h.mat.UpdateChore(id, req.Title, req.Description, req.CategoryID, req.TimeSlot, req.Recurrence, req.ReminderMinutesBefore)
	if errors.Is(err, chore.ErrChoreNotFound) {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}
	if err != nil {
		h.logger.Error("update chore", "chore_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update chore")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityChore, "updated", id, nil))
	writeJSON(w, http.StatusOK, c)
}

type futureRequest struct {
	choreRequest
	FromDate string `json:"fromDate"`
}

// Future applies a template edit to all upcoming occurrences from fromDate.
// Overridden occurrences survive.
func (h *ChoreHandler) Future(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req futureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if _, err := recurrence.ParseDate(req.FromDate); err != nil {
		writeError(w, http.StatusBadRequest, "fromDate must be YYYY-MM-DD")
		return
	}

	c, err := h.mat.EditTemplateForward(id, req.Title, req.Description, req.CategoryID, req.TimeSlot, req.Recurrence, req.ReminderMinutesBefore, req.FromDate)
	if errors.Is(err, chore.ErrChoreNotFound) {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}
	if err != nil {
		h.logger.Error("edit chore forward", "chore_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update future occurrences")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityChore, "updated", id, nil))
	h.broadcast(websocket.NewMessage(websocket.EntityOccurrence, "regenerated", id, nil))
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	c, err := h.mat.TogglePause(id)
	if errors.Is(err, chore.ErrChoreNotFound) {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle pause")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityChore, "updated", id, nil))
	writeJSON(w, http.StatusOK, c)
}

func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	err = h.mat.DeleteChore(id)
	if errors.Is(err, chore.ErrChoreNotFound) {
		writeError(w, http.StatusNotFound, "chore not found")
		return
	}
	if err != nil {
		h.logger.Error("delete chore", "chore_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chore")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityChore, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
