package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"luadrop/pkg/deploykey"
)

func (a *API) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	deployments, err := a.lifecycle.List(r.Context(), owner)
	if err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (a *API) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	var req struct {
		Title     string         `json:"title"`
		Content   string         `json:"content"`
		UploadKey string         `json:"upload_key"`
		MimeType  string         `json:"mime_type"`
		Meta      map[string]any `json:"meta"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.log, validationf("decode request: %v", err))
		return
	}

	deployment, err := a.lifecycle.Create(r.Context(), owner, CreateInput{
		Title:     req.Title,
		Content:   []byte(req.Content),
		UploadKey: strings.TrimSpace(req.UploadKey),
		MimeType:  strings.TrimSpace(req.MimeType),
		Meta:      req.Meta,
	})
	if err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"deployment": deployment})
}

func (a *API) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.log, validationf("valid deployment id is required"))
		return
	}

	withContent := r.URL.Query().Get("content") != "false"

	deployment, err := a.lifecycle.Get(r.Context(), owner, id, withContent)
	if err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deployment": deployment})
}

func (a *API) handleUpdateDeployment(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.log, validationf("valid deployment id is required"))
		return
	}

	var req struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
		Status  *string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, a.log, validationf("decode request: %v", err))
		return
	}

	in := UpdateInput{Title: req.Title, Status: req.Status}
	if req.Content != nil {
		in.Content = []byte(*req.Content)
	}

	deployment, err := a.lifecycle.Update(r.Context(), owner, id, in)
	if err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deployment": deployment})
}

func (a *API) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.log, validationf("valid deployment id is required"))
		return
	}

	if err := a.lifecycle.Delete(r.Context(), owner, id); err != nil {
		respondError(w, a.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleCreateUpload starts the file-ingestion flow: mint a deploy key and
// storage path, presign a PUT against it, and hand both back. The client
// uploads straight to the object store, then registers the deployment with
// upload_key.
func (a *API) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
		return
	}

	key, err := deploykey.New()
	if err != nil {
		respondError(w, a.log, err)
		return
	}
	storagePath := deploykey.StoragePath(owner.String(), key)

	uploadURL, err := a.store.Blob.PresignPut(r.Context(), storagePath, uploadURLExpiry)
	if err != nil {
		respondError(w, a.log, &StorageError{Op: "presign put", Err: err})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"upload_key": storagePath,
		"upload_url": uploadURL,
	})
}
