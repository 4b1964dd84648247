package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/translate"
)

// LanguageEntry is one selectable language.
type LanguageEntry struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// CreateGroupRequest is the body of POST /api/groups.
type CreateGroupRequest struct {
	Name       string   `json:"name"`
	ContactIDs []string `json:"contactIds"`
}

func languageEntries() []LanguageEntry {
	langs := chat.Languages()
	out := make([]LanguageEntry, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageEntry{Name: l.String(), Tag: l.Tag()})
	}
	return out
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/profile", s.getProfile)
	mux.HandleFunc("GET /api/contacts", s.getContacts)
	mux.HandleFunc("GET /api/groups", s.getGroups)
	mux.HandleFunc("POST /api/groups", s.createGroup)
	mux.HandleFunc("GET /api/groups/{id}", s.getGroup)
	mux.HandleFunc("GET /api/languages", s.getLanguages)
	mux.HandleFunc("GET /api/voices", s.getVoices)
	mux.HandleFunc("GET /api/call", s.getCall)
}

func (s *Server) getProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Directory.Local())
}

func (s *Server) getContacts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Directory.Contacts())
}

func (s *Server) getGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Directory.Store().Groups())
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.cfg.Directory.Store().Group(r.PathValue("id"))
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.ContactIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("a group needs at least one contact"))
		return
	}
	g, err := s.cfg.Directory.CreateGroup(req.Name, req.ContactIDs)
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) getLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languageEntries())
}

func (s *Server) getVoices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Voices == nil {
		writeError(w, http.StatusServiceUnavailable, translate.ErrNoSynthesizer)
		return
	}
	voices, err := s.cfg.Voices(r.Context())
	if errors.Is(err, translate.ErrNoSynthesizer) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) getCall(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.cfg.Calls.Info()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
