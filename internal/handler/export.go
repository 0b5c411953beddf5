package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mdelaney/choreplan/internal/chore"
	"github.com/mdelaney/choreplan/internal/export"
	"github.com/mdelaney/choreplan/internal/websocket"
)

// maxImportBytes caps uploaded export files. Even years of chores stay far
// below this.
const maxImportBytes = 32 << 20

type ExportHandler struct {
	exporter *export.Service
	mat      *chore.Materializer
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewExportHandler(exporter *export.Service, mat *chore.Materializer, hub *websocket.Hub, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{exporter: exporter, mat: mat, hub: hub, logger: logger}
}

// Export streams the full data set as a downloadable JSON file.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.exporter.ExportJSON()
	if err != nil {
		h.logger.Error("export", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export data")
		return
	}

	filename := fmt.Sprintf("choreplan-export-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// Import replaces all data with an uploaded export file, then reloads and
// regenerates the occurrence cache.
func (h *ExportHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.exporter.ImportJSON(data); err != nil {
		var verr *export.ErrUnsupportedVersion
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		if errors.Is(err, export.ErrMissingCollections) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("import", "error", err)
		writeError(w, http.StatusBadRequest, "import failed, data unchanged")
		return
	}

	if err := h.mat.Load(); err != nil {
		h.logger.Error("reload after import", "error", err)
		writeError(w, http.StatusInternalServerError, "imported, but reload failed")
		return
	}
	if err := h.mat.GenerateAll(0); err != nil {
		h.logger.Error("generate after import", "error", err)
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntityChore, "imported", 0, nil))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
