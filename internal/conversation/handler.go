package conversation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

// Get returns the current state of a conversation owned by the caller.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	state, ok := h.ownedState(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, state)
}

// Delete resets a conversation, discarding its history and used-knowledge set.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	state, ok := h.ownedState(w, r)
	if !ok {
		return
	}
	if err := h.svc.Clear(r.Context(), state.ConversationID); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSONMessage(w, http.StatusOK, "conversation cleared")
}

func (h *Handler) ownedState(w http.ResponseWriter, r *http.Request) (*State, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return nil, false
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid conversation id"))
		return nil, false
	}

	state, err := h.svc.Get(r.Context(), conversationID)
	if err != nil {
		api.HandleError(w, err)
		return nil, false
	}
	if state == nil {
		api.HandleError(w, api.NewNotFoundError("conversation not found"))
		return nil, false
	}
	if state.UserID != userID {
		api.HandleError(w, api.ErrOwnershipViolation)
		return nil, false
	}
	return state, true
}
