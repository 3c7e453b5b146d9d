package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleReleasesList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stored, err := s.releases.Releases(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	current, err := s.releases.CurrentRelease(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type releaseInfo struct {
		Hash      string `json:"hash"`
		CreatedAt int64  `json:"created_at"`
		Current   bool   `json:"current"`
	}
	out := make([]releaseInfo, 0, len(stored))
	for hash, createdAt := range stored {
		out = append(out, releaseInfo{
			Hash:      hash,
			CreatedAt: createdAt.UnixMilli(),
			Current:   hash == current,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReleaseCreate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hash := chi.URLParam(r, "hash")
	if s.releases.ReleaseExists(id, hash) {
		writeError(w, http.StatusConflict, "release already exists")
		return
	}
	dir, err := s.releases.CreateRelease(id, hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": dir})
}

func (s *Server) handleReleaseActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hash := chi.URLParam(r, "hash")
	if !s.releases.ReleaseExists(id, hash) {
		writeError(w, http.StatusNotFound, "release does not exist")
		return
	}
	if err := s.releases.SetRelease(id, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The catalog is rebuilt so the new build takes effect without a restart.
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.controller.ReloadFromFS(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
