package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
	"github.com/mdelaney/choreplan/internal/websocket"
)

type CategoryHandler struct {
	categoryStore *store.CategoryStore
	hub           *websocket.Hub
}

func NewCategoryHandler(cs *store.CategoryStore, hub *websocket.Hub) *CategoryHandler {
	return &CategoryHandler{categoryStore: cs, hub: hub}
}

func (h *CategoryHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type categoryRequest struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categoryStore.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	category, err := h.categoryStore.Create(req.Name, req.Icon, req.Color)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityCategory, "created", category.ID, nil))
	writeJSON(w, http.StatusCreated, category)
}

func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.categoryStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get category")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}

	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	category, err := h.categoryStore.Update(id, req.Name, req.Icon, req.Color)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityCategory, "updated", id, nil))
	writeJSON(w, http.StatusOK, category)
}

func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.categoryStore.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get category")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}

	// Chores referencing the category fall back to uncategorized.
	if err := h.categoryStore.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityCategory, "deleted", id, nil))
	w.WriteHeader(http.StatusNoContent)
}
