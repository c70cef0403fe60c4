package api

import "net/http"

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	stats, err := a.lifecycle.Stats(r.Context(), owner)
	if err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
