package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/memory"
	"github.com/go-chi/chi/v5"
)

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sessionRequest struct {
	Title string `json:"title"`
}

// compactResponse is the JSON form of a manual retention run.
type compactResponse struct {
	Compressed bool            `json:"compressed"`
	Summary    *memory.Summary `json:"summary,omitempty"`
	Pruned     int             `json:"pruned"`
	State      string          `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAddMessage appends a turn. Compression failures are never surfaced.
func (g *Gateway) handleAddMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMessageRequest
		if !g.decodeBody(w, r, &req) {
			return
		}
		role, err := memory.ParseRole(req.Role)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		msg, err := g.store.AddMessage(r.Context(), role, req.Content)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleGetContext serves the assembled context. ?limit overrides the
// active window size.
func (g *Gateway) handleGetContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		entries, err := g.store.GetContext(r.Context(), limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleSearch runs a case-insensitive substring search over messages and
// summaries. An empty or missing q matches every message and summary.
func (g *Gateway) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits, err := g.store.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hits)
	}
}

func (g *Gateway) handleListSummaries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := g.store.Summaries(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// handleCompact runs the retention policy once. A summarizer failure is
// reported as 502 since the store itself is healthy.
func (g *Gateway) handleCompact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := g.store.Compact(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCompactResponse(res, g.store.State()))
	}
}

func newCompactResponse(res ctxengine.Result, state ctxengine.State) compactResponse {
	out := compactResponse{
		Compressed: res.Compressed,
		Pruned:     res.Pruned,
		State:      state.String(),
	}
	if res.Compressed {
		s := res.Summary
		out.Summary = &s
	}
	return out
}

func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := g.store.ListSessions(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

// handleCreateSession accepts an optional {"title"} body.
func (g *Gateway) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if !g.decodeOptionalBody(w, r, &req) {
			return
		}
		sess, err := g.store.CreateSession(r.Context(), req.Title)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (g *Gateway) handleRenameSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if !g.decodeBody(w, r, &req) {
			return
		}
		if err := g.store.RenameSession(r.Context(), chi.URLParam(r, "id"), req.Title); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleTouchSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.store.TouchSession(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.store.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeBody reads a size-capped JSON body into v. It writes a 400 and
// returns false on failure.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return g.decode(w, r, v, false)
}

// decodeOptionalBody is decodeBody for handlers where an empty body keeps
// v at its zero value. Chunked requests carry no Content-Length, so
// emptiness is detected from the decoder.
func (g *Gateway) decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return g.decode(w, r, v, true)
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	body := http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeStoreError maps store sentinels onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrInvalidRole), errors.Is(err, memory.ErrInvalidRange):
		code = http.StatusBadRequest
	case errors.Is(err, memory.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, memory.ErrSummarizationFailed):
		code = http.StatusBadGateway
	case errors.Is(err, memory.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
