package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/promptlift/promptlift/internal/api"
	"github.com/promptlift/promptlift/internal/auth"
	"github.com/promptlift/promptlift/internal/usage"
)

type Handler struct {
	pipeline *Pipeline
	validate *validator.Validate
}

func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{
		pipeline: pipeline,
		validate: validator.New(),
	}
}

// upgradeRequest is the wire shape; conversation_id is optional and a new
// conversation is started when it is absent.
type upgradeRequest struct {
	UserPrompt     string  `json:"user_prompt" validate:"required,min=1,max=8000"`
	ConversationID string  `json:"conversation_id" validate:"omitempty,uuid"`
	Options        Options `json:"options"`
}

func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid conversation ID"))
			return
		}
	}

	result, err := h.pipeline.Run(r.Context(), Request{
		UserPrompt:     req.UserPrompt,
		ConversationID: conversationID,
		UserID:         userID,
		Options:        req.Options,
	})
	if err != nil {
		slog.Warn("prompt upgrade rejected", "error", err, "user_id", userID)
		var quotaErr *usage.QuotaError
		if errors.As(err, &quotaErr) {
			api.HandleError(w, api.NewTooManyRequestsError(quotaErr.Reason))
			return
		}
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	api.JSON(w, http.StatusOK, result)
}
