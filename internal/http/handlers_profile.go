package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
	"github.com/seda/bdportal/internal/session"
)

// ProfileHandlers serves the signed-in user's profile.
type ProfileHandlers struct {
	Logger *slog.Logger
}

// Update applies a partial profile update for the signed-in user.
// PATCH /api/profile.
func (h *ProfileHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var patch domainauth.ProfilePatch
	if !DecodeJSON(w, r, &patch) {
		return
	}
	if patch.Empty() {
		WriteAppError(w, apperrors.Validation("no profile fields to update"))
		return
	}

	st, ok := StoreFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}

	p, err := st.UpdateProfile(r.Context(), patch)
	switch {
	case err == nil:
		// The layout header shows the profile name.
		if IsHTMX(r) {
			SetHXRefresh(w)
		}
		WriteJSON(w, http.StatusOK, p)
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrClosed):
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
	default:
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(r.Context(), "profile update failed", "session_id", st.ID(), "error", err)
		WriteAppError(w, err)
	}
}
