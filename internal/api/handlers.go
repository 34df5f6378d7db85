package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
	"github.com/NielsdaWheelz/marginalia/core/markup"
	"github.com/NielsdaWheelz/marginalia/core/offset"
	"github.com/NielsdaWheelz/marginalia/internal/ingest"
	"github.com/NielsdaWheelz/marginalia/internal/render"
	"github.com/NielsdaWheelz/marginalia/internal/store"
)

// maxBodySize caps request bodies; fragments are text, not media.
const maxBodySize = 8 << 20

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// FragmentInfo is the wire form of a stored fragment. Source markup is
// included only on single-fragment fetches.
type FragmentInfo struct {
	ID              string `json:"id"`
	Markup          string `json:"markup,omitempty"`
	CanonicalText   string `json:"canonical_text"`
	CanonicalDigest string `json:"canonical_digest"`
	CreatedAt       string `json:"created_at"`
}

// CreateFragmentRequest is the request body for fragment ingest. Format
// selects the ingest path: "html" (default), "markdown", or "text".
type CreateFragmentRequest struct {
	ID      string `json:"id,omitempty"`
	Format  string `json:"format,omitempty"`
	Content string `json:"content"`
}

// BoundaryRef is one end of a client selection: a node locator plus a
// codepoint offset within that node's raw text.
type BoundaryRef struct {
	NodePath string `json:"node_path"`
	Offset   int    `json:"offset"`
}

// SelectionRequest asks the server to resolve a selection to canonical
// offsets.
type SelectionRequest struct {
	Start BoundaryRef `json:"start"`
	End   BoundaryRef `json:"end"`
}

// SelectionResult is the resolved canonical range with a snapshot preview.
type SelectionResult struct {
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	ExactText   string `json:"exact_text"`
	PrefixText  string `json:"prefix_text"`
	SuffixText  string `json:"suffix_text"`
}

// CreateHighlightRequest is the request body for highlight creation.
// ExactText, when supplied, is checked against the server-side snapshot.
type CreateHighlightRequest struct {
	FragmentID  string `json:"fragment_id"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Color       string `json:"color"`
	ExactText   string `json:"exact_text,omitempty"`
	PrefixText  string `json:"prefix_text,omitempty"`
	SuffixText  string `json:"suffix_text,omitempty"`
}

// UpdateHighlightRequest is the request body for highlight updates. Absent
// fields keep their current value.
type UpdateHighlightRequest struct {
	StartOffset *int    `json:"start_offset,omitempty"`
	EndOffset   *int    `json:"end_offset,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// NoteRequest is the request body for attaching a note to a highlight.
type NoteRequest struct {
	Body string `json:"body"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Fragments int    `json:"fragments"`
}

var startTime = time.Now()

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "Marginalia API",
		"version": "0.1.0",
		"endpoints": []string{
			"GET /health",
			"GET /fragments",
			"POST /fragments",
			"GET /fragments/:id",
			"DELETE /fragments/:id",
			"GET /fragments/:id/render",
			"GET /fragments/:id/overlay",
			"GET /fragments/:id/highlights",
			"POST /fragments/:id/selection",
			"POST /highlights",
			"GET /highlights/:id",
			"PATCH /highlights/:id",
			"DELETE /highlights/:id",
			"GET /highlights/:id/note",
			"PUT /highlights/:id/note",
			"WS /ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	frags, err := s.store.ListFragments(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respond(w, http.StatusOK, HealthInfo{
		Status:    "healthy",
		Version:   "0.1.0",
		Uptime:    time.Since(startTime).String(),
		Fragments: len(frags),
	})
}

func (s *Server) handleFragments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listFragmentsHandler(w, r)
	case http.MethodPost:
		s.createFragmentHandler(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

func (s *Server) listFragmentsHandler(w http.ResponseWriter, r *http.Request) {
	frags, err := s.store.ListFragments(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	infos := make([]FragmentInfo, 0, len(frags))
	for _, f := range frags {
		infos = append(infos, fragmentInfo(f, false))
	}
	respondList(w, infos, len(infos))
}

func (s *Server) createFragmentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateFragmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "content is required")
		return
	}

	var (
		src []byte
		err error
	)
	switch req.Format {
	case "", "html", "markup":
		src, err = ingest.FromHTML([]byte(req.Content))
	case "markdown":
		src, err = ingest.FromMarkdown([]byte(req.Content))
	case "text":
		src, err = ingest.FromPlainText([]byte(req.Content))
	default:
		respondError(w, http.StatusBadRequest, "INVALID_INPUT",
			fmt.Sprintf("unknown format %q (want html, markdown or text)", req.Format))
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	frag, err := s.store.PutFragment(r.Context(), req.ID, src)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, http.StatusCreated, fragmentInfo(frag, true))
}

// handleFragmentSubtree routes /fragments/{id} and its sub-resources.
func (s *Server) handleFragmentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/fragments/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "fragment id is required")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getFragmentHandler(w, r, id)
		case http.MethodDelete:
			s.deleteFragmentHandler(w, r, id)
		default:
			respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
		}
		return
	}

	switch parts[1] {
	case "render":
		s.renderFragmentHandler(w, r, id)
	case "overlay":
		s.overlayFragmentHandler(w, r, id)
	case "highlights":
		s.listHighlightsHandler(w, r, id)
	case "selection":
		s.selectionHandler(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
	}
}

func (s *Server) getFragmentHandler(w http.ResponseWriter, r *http.Request, id string) {
	frag, err := s.store.Fragment(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, http.StatusOK, fragmentInfo(frag, true))
}

func (s *Server) deleteFragmentHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.DeleteFragment(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	s.invalidateRenders(id)
	respond(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) renderFragmentHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	key := renderKey{fragmentID: id, ownerID: s.ownerID(r)}
	if cached, ok := s.flows.Get(key); ok {
		respond(w, http.StatusOK, cached)
		return
	}

	frag, spans, ok := s.fragmentAndSpans(w, r, id)
	if !ok {
		return
	}

	result, err := render.RenderFlow(frag.SourceMarkup, frag.ID, frag.CanonicalText, frag.CanonicalDigest, spans)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.flows.Set(key, result)
	respond(w, http.StatusOK, result)
}

func (s *Server) overlayFragmentHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	key := renderKey{fragmentID: id, ownerID: s.ownerID(r)}
	if cached, ok := s.overlays.Get(key); ok {
		respond(w, http.StatusOK, cached)
		return
	}

	frag, spans, ok := s.fragmentAndSpans(w, r, id)
	if !ok {
		return
	}

	overlay, err := render.RenderOverlay(frag.SourceMarkup, frag.ID, frag.CanonicalText, frag.CanonicalDigest, spans)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.overlays.Set(key, overlay)
	respond(w, http.StatusOK, overlay)
}

func (s *Server) listHighlightsHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	spans, err := s.store.ListForFragment(r.Context(), s.ownerID(r), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, spans, len(spans))
}

// selectionHandler resolves a client selection against the fragment's
// canonical text. Boundaries arrive as node locators with in-node offsets;
// the response carries canonical offsets plus the snapshot a highlight at
// that range would store.
func (s *Server) selectionHandler(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	frag, err := s.store.Fragment(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	doc, err := markup.Parse(frag.SourceMarkup)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	startNode, err := doc.NodeAtPath(req.Start.NodePath)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "SELECTION_UNRESOLVED", err.Error())
		return
	}
	endNode, err := doc.NodeAtPath(req.End.NodePath)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "SELECTION_UNRESOLVED", err.Error())
		return
	}

	idx := offset.BuildIndex(doc)
	start, end, err := idx.SelectionToOffsets(
		offset.Boundary{Node: startNode, Offset: req.Start.Offset},
		offset.Boundary{Node: endNode, Offset: req.End.Offset},
	)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	exact, prefix, suffix, err := highlight.Snapshot(frag.CanonicalText, start, end)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, http.StatusOK, SelectionResult{
		StartOffset: start,
		EndOffset:   end,
		ExactText:   exact,
		PrefixText:  prefix,
		SuffixText:  suffix,
	})
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req CreateHighlightRequest
	if !decodeBody(w, r, &req) {
		return
	}

	span, err := s.store.CreateHighlight(r.Context(), store.CreateParams{
		OwnerID:      s.ownerID(r),
		FragmentID:   req.FragmentID,
		Start:        req.StartOffset,
		End:          req.EndOffset,
		Color:        req.Color,
		ClientExact:  req.ExactText,
		ClientPrefix: req.PrefixText,
		ClientSuffix: req.SuffixText,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateRenders(span.FragmentID)
	s.hub.BroadcastHighlight(EventHighlightCreated, span)
	respond(w, http.StatusCreated, span)
}

// handleHighlightSubtree routes /highlights/{id} and /highlights/{id}/note.
func (s *Server) handleHighlightSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/highlights/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "highlight id is required")
		return
	}

	if len(parts) == 2 {
		if parts[1] != "note" {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
			return
		}
		s.noteHandler(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getHighlightHandler(w, r, id)
	case http.MethodPatch:
		s.updateHighlightHandler(w, r, id)
	case http.MethodDelete:
		s.deleteHighlightHandler(w, r, id)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET, PATCH and DELETE are allowed")
	}
}

func (s *Server) getHighlightHandler(w http.ResponseWriter, r *http.Request, id string) {
	span, err := s.store.Highlight(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, http.StatusOK, span)
}

func (s *Server) updateHighlightHandler(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateHighlightRequest
	if !decodeBody(w, r, &req) {
		return
	}

	span, err := s.store.UpdateHighlight(r.Context(), id, store.UpdateParams{
		Start: req.StartOffset,
		End:   req.EndOffset,
		Color: req.Color,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateRenders(span.FragmentID)
	s.hub.BroadcastHighlight(EventHighlightUpdated, span)
	respond(w, http.StatusOK, span)
}

func (s *Server) deleteHighlightHandler(w http.ResponseWriter, r *http.Request, id string) {
	span, err := s.store.Highlight(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := s.store.DeleteHighlight(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	s.invalidateRenders(span.FragmentID)
	s.hub.BroadcastHighlight(EventHighlightDeleted, span)
	respond(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) noteHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		body, err := s.store.Note(r.Context(), id)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respond(w, http.StatusOK, NoteRequest{Body: body})
	case http.MethodPut:
		var req NoteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.store.SetNote(r.Context(), id, req.Body); err != nil {
			respondDomainError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]string{"id": id, "status": "saved"})
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and PUT are allowed")
	}
}

// fragmentAndSpans loads a fragment and the caller's highlights on it,
// writing the error response itself on failure.
func (s *Server) fragmentAndSpans(w http.ResponseWriter, r *http.Request, id string) (*store.Fragment, []*highlight.Span, bool) {
	frag, err := s.store.Fragment(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return nil, nil, false
	}
	spans, err := s.store.ListForFragment(r.Context(), s.ownerID(r), id)
	if err != nil {
		respondDomainError(w, err)
		return nil, nil, false
	}
	return frag, spans, true
}

// ownerID resolves the caller's owner identity. Visibility policy beyond
// "your own spans" is out of scope here; the header is trusted.
func (s *Server) ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	if s.cfg.DefaultOwner != "" {
		return s.cfg.DefaultOwner
	}
	return "local"
}

func fragmentInfo(f *store.Fragment, withMarkup bool) FragmentInfo {
	info := FragmentInfo{
		ID:              f.ID,
		CanonicalText:   f.CanonicalText,
		CanonicalDigest: f.CanonicalDigest,
		CreatedAt:       f.CreatedAt.UTC().Format(time.RFC3339),
	}
	if withMarkup {
		info.Markup = string(f.SourceMarkup)
	}
	return info
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse JSON body")
		return false
	}
	return true
}

// respondDomainError maps the error taxonomy to HTTP statuses. Mismatch
// errors never reach here from the render handlers; the renderers convert
// them to a plain-text fallback payload.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errors.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, errors.ErrInvalidRange):
		respondError(w, http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error())
	case errors.Is(err, errors.ErrSelection):
		respondError(w, http.StatusUnprocessableEntity, "SELECTION_UNRESOLVED", err.Error())
	case errors.Is(err, errors.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func respondList(w http.ResponseWriter, data interface{}, total int) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
