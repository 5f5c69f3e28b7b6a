package usage

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/api"
	"github.com/promptlift/promptlift/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Status returns the caller's current usage against configured limits.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.svc.GetStatus(r.Context(), userID)
	if err != nil {
		slog.Error("fetching usage status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, status)
}
