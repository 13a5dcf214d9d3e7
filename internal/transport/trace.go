package transport

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tracceaqua/tracceaqua/internal/domain/attachment"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var viewer *record.Actor
	if actor, ok := ActorFromContext(r.Context()); ok {
		viewer = &actor
	}
	view, err := s.svc.Traces.View(r.Context(), chi.URLParam(r, "id"), viewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	att, err := s.svc.Attachments.Put(r.Context(), r.Body, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if att.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, att)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ref, err := url.PathUnescape(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, attachment.ErrInvalidRef)
		return
	}
	info, rc, err := s.svc.Attachments.Open(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil && r.Context().Err() == nil {
		s.logger.Warn("attachment download interrupted", "ref", ref, "error", err)
	}
}
