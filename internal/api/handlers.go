package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/applyd/internal/composer"
	"github.com/kalambet/applyd/internal/ingest"
	"github.com/kalambet/applyd/internal/pipeline"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

type AppDeps struct {
	Store          *storage.Store
	Profiles       *profile.Manager
	Onboarder      *ingest.Onboarder
	Factory        *pipeline.Factory
	Sessions       *SessionRegistry
	DefaultRAGType int
	Token          string
}

// NewAppHandler returns the management and chat API. Everything except
// /health requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Sessions == nil {
		deps.Sessions = NewSessionRegistry()
	}
	if deps.DefaultRAGType == 0 {
		deps.DefaultRAGType = retrieval.RAGDirect
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/profiles", handleCreateProfile(deps))
		r.Get("/profiles/{index}", handleGetProfile(deps))
		r.Get("/persons", handleListPersons(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Post("/sessions/{id}/messages", handleSessionMessage(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createProfileRequest struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Profile json.RawMessage `json:"profile"`
}

func handleCreateProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Profile) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "profile is required")
			return
		}
		rec, err := profile.Parse(req.Profile)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid profile: %v", err)
			return
		}

		idx, err := deps.Onboarder.Register(req.Name, req.Email, rec)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		jobID, err := ingest.EnqueueBuild(deps.Store, idx)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "profile %d stored but index build not queued: %v", idx, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{"index": idx, "job_id": jobID})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || idx < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "index must be a positive integer")
			return
		}

		person, err := deps.Store.GetPerson(idx)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile %d not found", idx)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}
		rec, err := deps.Profiles.Get(idx)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}
		data, err := profile.Encode(rec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"index":   person.Index,
			"name":    person.Name,
			"email":   person.Email,
			"profile": json.RawMessage(data),
		})
	}
}

type personResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// handleListPersons lists the directory, or resolves a single address when
// ?email= is given.
func handleListPersons(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
			idx, err := deps.Store.LookupIndexByEmail(email)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "no person registered for %s", email)
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"index": idx})
			return
		}

		persons, err := deps.Store.ListPersons()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}
		out := make([]personResponse, len(persons))
		for i, p := range persons {
			out[i] = personResponse{Index: p.Index, Name: p.Name, Email: p.Email}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type createSessionRequest struct {
	ProfileIndex int `json:"profile_index"`
	RAGType      int `json:"rag_type"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.RAGType == 0 {
			req.RAGType = deps.DefaultRAGType
		}

		s, err := deps.Factory.Session(req.ProfileIndex, req.RAGType)
		switch {
		case errors.Is(err, retrieval.ErrUnknownStrategy):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "profile %d not found", req.ProfileIndex)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
			return
		}
		deps.Sessions.Put(s)

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":            s.ID,
			"profile_index": req.ProfileIndex,
			"rag_type":      req.RAGType,
		})
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Reply        string `json:"reply"`
	Gated        bool   `json:"gated"`
	PromptTokens int    `json:"prompt_tokens"`
}

func handleSessionMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := deps.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		res, err := s.Turn(r.Context(), req.Message)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "turn failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, messageResponse{
			Reply:        res.Reply,
			Gated:        res.Gated,
			PromptTokens: composer.CountTokens(res.Prompt),
		})
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Sessions.Delete(chi.URLParam(r, "id")) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
