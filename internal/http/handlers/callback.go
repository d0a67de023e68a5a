package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/reconcile"
)

// GenerationCallback receives the asynchronous result from the workflow
// engine. The payload is never trusted: it goes through the reconciler,
// which normalizes the half dozen field aliases engines have used over
// time and enforces the URL policy.
func (a *App) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	if secret := a.Config.CallbackSharedSecret; secret != "" {
		got := r.Header.Get("X-Callback-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
			return
		}
	}

	var ev reconcile.CallbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid callback payload")
		return
	}

	gen, err := a.Reconciler.ProcessCallback(r.Context(), &ev)
	switch {
	case errors.Is(err, domain.ErrMissingField):
		a.error(w, http.StatusBadRequest, "missing_field", "generation id is required")
		return
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("generation_id", ev.GenerationID).Msg("callback reconcile failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process callback")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":    true,
		"generation": toDTO(gen),
	})
}
