package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mdelaney/choreplan/internal/chore"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/recurrence"
	"github.com/mdelaney/choreplan/internal/websocket"
)

type OccurrenceHandler struct {
	mat    *chore.Materializer
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewOccurrenceHandler(mat *chore.Materializer, hub *websocket.Hub, logger *slog.Logger) *OccurrenceHandler {
	return &OccurrenceHandler{mat: mat, hub: hub, logger: logger}
}

func (h *OccurrenceHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

// List returns occurrences for ?date=YYYY-MM-DD or ?from=...&to=... ranges.
func (h *OccurrenceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, to := q.Get("from"), q.Get("to")
	if date := q.Get("date"); date != "" {
		from, to = date, date
	}
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "date or from/to query parameters are required")
		return
	}
	for _, d := range []string{from, to} {
		if _, err := recurrence.ParseDate(d); err != nil {
			writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	occs := h.mat.OccurrencesInRange(from, to)
	if occs == nil {
		occs = []model.Occurrence{}
	}
	writeJSON(w, http.StatusOK, occs)
}

// Generate materializes occurrences for every chore across the upcoming
// window. The client calls this on startup and after restoring a snapshot.
func (h *OccurrenceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowDays int `json:"windowDays"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.mat.GenerateAll(req.WindowDays); err != nil {
		h.logger.Error("generate occurrences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate occurrences")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityOccurrence, "regenerated", 0, nil))
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status model.OccurrenceStatus `json:"status"`
}

func (h *OccurrenceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	occ, err := h.mat.SetStatus(id, req.Status)
	switch {
	case errors.Is(err, chore.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "status must be pending, done, or skipped")
		return
	case errors.Is(err, chore.ErrOccurrenceNotFound):
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	case err != nil:
		h.logger.Error("set occurrence status", "occurrence_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityOccurrence, "updated", id, map[string]any{"status": string(occ.Status)}))
	writeJSON(w, http.StatusOK, occ)
}

type editRequest struct {
	Date     *string `json:"date"`
	TimeSlot *string `json:"timeSlot"`
}

// Edit reschedules a single occurrence, marking it overridden so template
// edits leave it alone afterwards.
func (h *OccurrenceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Date == nil && req.TimeSlot == nil {
		writeError(w, http.StatusBadRequest, "date or timeSlot is required")
		return
	}
	if req.Date != nil {
		if _, err := recurrence.ParseDate(*req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	if !validTimeSlot(req.TimeSlot) {
		writeError(w, http.StatusBadRequest, "timeSlot must be HH:MM")
		return
	}

	occ, err := h.mat.EditOccurrence(id, req.Date, req.TimeSlot)
	if errors.Is(err, chore.ErrOccurrenceNotFound) {
		writeError(w, http.StatusNotFound, "occurrence not found")
		return
	}
	if err != nil {
		h.logger.Error("edit occurrence", "occurrence_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to edit occurrence")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityOccurrence, "updated", id, nil))
	writeJSON(w, http.StatusOK, occ)
}
