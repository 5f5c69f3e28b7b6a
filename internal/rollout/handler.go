package rollout

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/api"
)

type Handler struct {
	svc         *Service
	windowHours int
	validate    *validator.Validate
}

func NewHandler(svc *Service, windowHours int) *Handler {
	return &Handler{
		svc:         svc,
		windowHours: windowHours,
		validate:    validator.New(),
	}
}

type createTemplateRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=120"`
	Content string `json:"content" validate:"required,min=1"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	t, err := h.svc.CreateVersion(r.Context(), req.Name, req.Content)
	if err != nil {
		slog.Error("creating template version", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, t)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.ListTemplates(r.Context())
	if err != nil {
		slog.Error("listing templates", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, templates)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.template(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, t)
}

// Status reports the stage plus the trailing error rate, the same view
// the scheduled driver acts on.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	t, ok := h.template(w, r)
	if !ok {
		return
	}

	rate := h.svc.CheckErrorRate(r.Context(), t.ID, h.windowHours)
	api.JSON(w, http.StatusOK, map[string]any{
		"template":   t,
		"error_rate": rate,
		"percentage": t.Stage.Percentage(),
	})
}

func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	t, ok := h.template(w, r)
	if !ok {
		return
	}

	stage, err := h.svc.IncrementRollout(r.Context(), t.ID)
	if err != nil {
		slog.Error("incrementing rollout", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"rollout_stage": stage})
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	t, ok := h.template(w, r)
	if !ok {
		return
	}

	if err := h.svc.Rollback(r.Context(), t.ID); err != nil {
		slog.Error("rolling back template", "error", err)
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}
	api.JSONMessage(w, http.StatusOK, "template rolled back")
}

func (h *Handler) template(w http.ResponseWriter, r *http.Request) (*Template, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid template ID"))
		return nil, false
	}

	t, err := h.svc.GetTemplate(r.Context(), id)
	if err != nil {
		slog.Error("fetching template", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return nil, false
	}
	if t == nil {
		api.HandleError(w, api.NewNotFoundError("template not found"))
		return nil, false
	}
	return t, true
}
