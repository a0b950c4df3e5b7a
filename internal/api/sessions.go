package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/feed"
	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/selection"
	"github.com/JakeFAU/news-digest/internal/session"
)

type fetchRequest struct {
	Keywords     []string `json:"keywords"`
	KeywordsText string   `json:"keywords_text"`
}

type selectionRequest struct {
	Keys []selection.Key `json:"keys"`
}

type exportResponse struct {
	Message string      `json:"message"`
	Digest  news.Digest `json:"digest"`
}

type publishResponse struct {
	MessageID string      `json:"message_id"`
	Digest    news.Digest `json:"digest"`
}

func (s *Server) createSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "session_id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fetchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req fetchRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keywords := req.Keywords
	if len(keywords) == 0 && req.KeywordsText != "" {
		keywords = feed.ParseKeywords(req.KeywordsText)
	}
	if len(keywords) == 0 {
		keywords = s.keywords
	}
	writeJSON(w, http.StatusOK, sess.Fetch(r.Context(), keywords))
}

func (s *Server) putSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	matched := sess.SetSelection(req.Keys)
	writeJSON(w, http.StatusOK, map[string]int{"requested": len(req.Keys), "checked": matched})
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	digest, ok := s.export(w, r, sess)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Message: digest.Message, Digest: digest})
}

func (s *Server) publishSession(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publishing is not configured")
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	digest, ok := s.export(w, r, sess)
	if !ok {
		return
	}
	id, err := s.publisher.Publish(r.Context(), s.topic, digest)
	if err != nil {
		s.logger.Error("publish digest failed", zap.String("session_id", sess.ID()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "publish failed")
		return
	}
	s.logger.Info("digest published", zap.String("session_id", sess.ID()), zap.String("message_id", id))
	writeJSON(w, http.StatusAccepted, publishResponse{MessageID: id, Digest: digest})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, sess *session.Session) (news.Digest, bool) {
	digest, err := sess.Export(r.Context())
	switch {
	case errors.Is(err, session.ErrNoSelection):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return news.Digest{}, false
	case err != nil:
		s.logger.Error("export failed", zap.String("session_id", sess.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return news.Digest{}, false
	}
	return digest, true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

// decodeOptional decodes a JSON body, treating an empty body as zero values.
func decodeOptional(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
