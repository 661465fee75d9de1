package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotsetgreg/companion/pkg/logger"
	"github.com/dotsetgreg/companion/pkg/memory"
	"github.com/dotsetgreg/companion/pkg/providers"
)

// Gateway is the upstream LLM surface the chat handler streams from.
type Gateway interface {
	Stream(ctx context.Context, messages []providers.Message, temperature float64) (io.ReadCloser, error)
}

// Server is the HTTP gateway over the chat handler and the memory pipeline.
type Server struct {
	svc     *memory.Service
	gateway Gateway
	log     zerolog.Logger
}

func NewServer(svc *memory.Service, gateway Gateway) *Server {
	return &Server{
		svc:     svc,
		gateway: gateway,
		log:     logger.Component("gateway"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/memory/extract", s.handleExtract)
	mux.HandleFunc("GET /api/memory/facts", s.handleListFacts)
	mux.HandleFunc("POST /api/memory/facts", s.handleAddFact)
	mux.HandleFunc("DELETE /api/memory/facts/{id}", s.handleDeleteFact)
	mux.HandleFunc("GET /api/memory/summaries", s.handleListSummaries)
	mux.HandleFunc("GET /api/memory/emotions", s.handleListEmotions)
	mux.HandleFunc("GET /api/memory/identity", s.handleListIdentity)
	mux.HandleFunc("GET /api/insights", s.handleInsights)
	mux.HandleFunc("POST /api/insights/{id}/surface", s.handleSurfaceInsight)
	mux.HandleFunc("POST /api/insights/{id}/dismiss", s.handleDismissInsight)
	mux.HandleFunc("POST /api/behavioral/{id}/ack", s.handleAckBehavioral)
	mux.HandleFunc("POST /api/rituals", s.handleGenerateRitual)
	mux.HandleFunc("GET /api/rituals", s.handleListRituals)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleHealth)

	return mux
}

type chatRequest struct {
	Messages      []providers.Message `json:"messages"`
	Persona       string              `json:"persona"`
	UserName      string              `json:"userName"`
	UserID        string              `json:"userId"`
	CompanionMode string              `json:"companionMode"`
}

// handleChat builds the layered system prompt and relays the upstream SSE
// byte stream untouched. It never triggers extraction; the client calls
// /api/memory/extract once it judges the conversation complete.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages required")
		return
	}

	cognitive := ""
	if req.UserID != "" {
		state, err := s.svc.CognitiveState(r.Context(), req.UserID)
		if err != nil {
			// Chat must not fail because memory reads did; degrade to no context.
			s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("cognitive state unavailable")
		} else {
			cognitive = state.Render()
		}
	}

	mode := NormalizeMode(req.CompanionMode)
	system := BuildSystemPrompt(req.Persona, req.UserName, cognitive, mode)
	messages := append([]providers.Message{{Role: "system", Content: system}}, req.Messages...)

	upstream, err := s.gateway.Stream(r.Context(), messages, mode.Temperature())
	if err != nil {
		s.relayUpstreamError(w, err)
		return
	}
	defer upstream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				s.log.Warn().Err(err).Msg("chat stream interrupted")
			}
			return
		}
	}
}

// relayUpstreamError surfaces gateway rate/payment errors verbatim with the
// upstream status so the client can tell a 429 from a 402. Anything else is
// a generic 502.
func (s *Server) relayUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.StatusCode, apiErr.Message)
		return
	}
	s.log.Error().Err(err).Msg("upstream chat call failed")
	writeError(w, http.StatusBadGateway, "upstream LLM gateway unavailable")
}

type extractRequest struct {
	UserID         string        `json:"userId"`
	ConversationID string        `json:"conversationId"`
	Messages       []memory.Turn `json:"messages"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	counts, err := s.svc.ExtractFromConversation(r.Context(), req.UserID, req.ConversationID, req.Messages)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrConversationTooShort):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.relayUpstreamError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	category := memory.FactCategory(r.URL.Query().Get("category"))
	facts, err := s.svc.Facts(r.Context(), userID, category, queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, facts)
}

type addFactRequest struct {
	UserID   string `json:"userId"`
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	var req addFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Key) == "" || strings.TrimSpace(req.Value) == "" {
		writeError(w, http.StatusBadRequest, "userId, key and value required")
		return
	}
	fact, err := s.svc.RememberFact(r.Context(), req.UserID, memory.FactCategory(req.Category), req.Key, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, fact)
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := s.svc.ForgetFact(r.Context(), userID, r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Summaries(r.Context(), userID, queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEmotions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Emotions(r.Context(), userID, queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListIdentity(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Identity(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleInsights runs the full proactive scan as a side effect of the fetch
// and returns the top pending insights. Marking them surfaced stays with the
// client via POST /api/insights/{id}/surface.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	insights, err := s.svc.ScanInsights(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) handleSurfaceInsight(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := s.svc.MarkInsightSurfaced(r.Context(), userID, r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissInsight(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DismissInsight(r.Context(), userID, r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAckBehavioral(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := s.svc.AcknowledgeBehavioralInsight(r.Context(), userID, r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ritualRequest struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
}

func (s *Server) handleGenerateRitual(w http.ResponseWriter, r *http.Request) {
	var req ritualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	rit, err := s.svc.GenerateRitual(r.Context(), req.UserID, memory.RitualType(req.Type))
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrUnknownRitualType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.relayUpstreamError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rit)
}

func (s *Server) handleListRituals(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Rituals(r.Context(), userID, queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return "", false
	}
	return userID, true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("storage error: %v", err))
}
