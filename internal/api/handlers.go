package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/footron/footron/internal/controller"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/placard"
)

func (s *Server) handleExperiences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Experiences())
}

func (s *Server) handleExperience(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.controller.Experience(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "experience not found")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Collections())
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.controller.Collections()[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Tags())
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Folders())
}

// currentResponse is the wire shape of the display's state. Timestamps are
// millisecond epochs; absent values are null.
type currentResponse struct {
	ID              *string               `json:"id"`
	Title           string                `json:"title,omitempty"`
	Artist          string                `json:"artist,omitempty"`
	Description     string                `json:"description,omitempty"`
	Lifetime        int                   `json:"lifetime,omitempty"`
	Layout          experience.Layout     `json:"layout,omitempty"`
	Collection      string                `json:"collection,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
	Folders         []string              `json:"folders,omitempty"`
	Unlisted        bool                  `json:"unlisted"`
	Queueable       bool                  `json:"queueable"`
	Scrubbing       bool                  `json:"scrubbing"`
	StartTime       *int64                `json:"start_time"`
	EndTime         *int64                `json:"end_time"`
	LastInteraction *int64                `json:"last_interaction"`
	Lock            experience.LockStatus `json:"lock"`
	LastLockUpdate  *int64                `json:"last_lock_update"`
	LastUpdate      int64                 `json:"last_update"`
}

func currentFromInfo(info controller.CurrentInfo) currentResponse {
	resp := currentResponse{
		Lock:            info.Lock,
		LastLockUpdate:  msPtr(info.LastLockUpdate),
		LastUpdate:      info.LastUpdate.UnixMilli(),
		EndTime:         msPtr(info.EndTime),
		LastInteraction: msPtr(info.LastInteraction),
	}
	if info.Experience != nil {
		resp.ID = &info.Experience.ID
		resp.Title = info.Experience.Title
		resp.Artist = info.Experience.Artist
		resp.Description = info.Experience.Description
		resp.Lifetime = info.Experience.Lifetime
		resp.Layout = info.Experience.Layout
		resp.Collection = info.Experience.Collection
		resp.Tags = info.Experience.Tags
		resp.Folders = info.Experience.Folders
		resp.Unlisted = info.Experience.Unlisted
		resp.Queueable = info.Experience.Queueable
		resp.Scrubbing = info.Experience.Scrubbing
		start := info.StartTime.UnixMilli()
		resp.StartTime = &start
	}
	return resp
}

// handleCurrentGet returns an empty object when nothing is on the display;
// the scheduler treats the missing id as "rebuild and advance".
func (s *Server) handleCurrentGet(w http.ResponseWriter, r *http.Request) {
	info := s.controller.CurrentInfo()
	if info.Experience == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, currentFromInfo(info))
}

func (s *Server) handleCurrentPut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID *string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "body must be JSON with an 'id' field")
		return
	}

	var throttle time.Duration
	if raw := r.URL.Query().Get("throttle"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			writeError(w, http.StatusBadRequest, "throttle must be a non-negative integer")
			return
		}
		throttle = time.Duration(seconds) * time.Second
	}

	err := s.controller.SetCurrent(r.Context(), body.ID, controller.SetOptions{Throttle: throttle})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, controller.ErrUnknownExperience):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, controller.ErrThrottled), errors.Is(err, controller.ErrTransitionInProgress):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCurrentPatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID              *string                `json:"id"`
		EndTime         *int64                 `json:"end_time"`
		Lock            *experience.LockStatus `json:"lock"`
		LastInteraction *int64                 `json:"last_interaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if body.ID == nil {
		writeError(w, http.StatusBadRequest, "body must name the experience being patched")
		return
	}
	// A patch races experience changes; one naming a stale id is refused so
	// it cannot land on the wrong experience.
	current := s.controller.CurrentExperienceID()
	if current == nil || *current != *body.ID {
		writeError(w, http.StatusBadRequest, "id does not match the current experience")
		return
	}
	if body.EndTime != nil {
		if *body.EndTime == 0 {
			s.controller.SetEndTime(nil)
		} else {
			t := time.UnixMilli(*body.EndTime)
			s.controller.SetEndTime(&t)
		}
	}
	if body.Lock != nil {
		s.controller.SetLock(*body.Lock)
	}
	if body.LastInteraction != nil {
		s.controller.NotifyInteraction()
	}
	writeJSON(w, http.StatusOK, currentFromInfo(s.controller.CurrentInfo()))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ReloadFromFS(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlacardExperienceGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.placard.Experience(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handlePlacardExperiencePatch(w http.ResponseWriter, r *http.Request) {
	var data placard.ExperienceData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.placard.SetExperience(r.Context(), data); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlacardURLGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.placard.URL(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handlePlacardURLPatch(w http.ResponseWriter, r *http.Request) {
	var data placard.URLData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.placard.SetURL(r.Context(), data.URL); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	width, _ := strconv.Atoi(query.Get("w"))
	height, _ := strconv.Atoi(query.Get("h"))
	quality, _ := strconv.Atoi(query.Get("q"))
	format := query.Get("format")

	data, contentType, err := s.controller.Screenshot(r.Context(), width, height, format, quality)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleColors(w http.ResponseWriter, r *http.Request) {
	palette, ok := s.controller.Palette(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no palette for experience")
		return
	}
	writeJSON(w, http.StatusOK, palette)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
