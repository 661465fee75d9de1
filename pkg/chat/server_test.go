package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/companion/pkg/config"
	"github.com/dotsetgreg/companion/pkg/memory"
	"github.com/dotsetgreg/companion/pkg/providers"
)

type stubGateway struct {
	body        string
	err         error
	gotMessages []providers.Message
	gotTemp     float64
}

func (g *stubGateway) Stream(ctx context.Context, messages []providers.Message, temperature float64) (io.ReadCloser, error) {
	g.gotMessages = messages
	g.gotTemp = temperature
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(g.body)), nil
}

func newTestServer(t *testing.T, gw Gateway, complete memory.CompleteFunc) (*Server, *memory.Service) {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if complete == nil {
		complete = func(ctx context.Context, system, user string, temperature float64) (string, error) {
			return "{}", nil
		}
	}
	svc := memory.NewServiceWithStore(config.DefaultConfig(), store, complete)
	return NewServer(svc, gw), svc
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamPassthrough(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"
	gw := &stubGateway{body: sse}
	server, _ := newTestServer(t, gw, nil)

	rec := postJSON(t, server.Handler(), "/api/chat", map[string]any{
		"messages":      []map[string]string{{"role": "user", "content": "hi"}},
		"companionMode": "creative",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	// Bytes relayed untouched, terminator included.
	assert.Equal(t, sse, rec.Body.String())
	assert.Equal(t, 0.9, gw.gotTemp)

	require.NotEmpty(t, gw.gotMessages)
	assert.Equal(t, "system", gw.gotMessages[0].Role)
	assert.Contains(t, gw.gotMessages[0].Content, "Mode: creative")
	assert.Equal(t, "hi", gw.gotMessages[1].Content)
}

func TestChatSplicesCognitiveState(t *testing.T) {
	gw := &stubGateway{body: "data: [DONE]\n\n"}
	server, svc := newTestServer(t, gw, nil)

	_, err := svc.RememberFact(context.Background(), "u1", memory.CategoryGoal, "run_marathon", "Run a marathon")
	require.NoError(t, err)

	rec := postJSON(t, server.Handler(), "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"userId":   "u1",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, gw.gotMessages)
	assert.Contains(t, gw.gotMessages[0].Content, "Run a marathon")
}

func TestChatRelaysUpstreamStatus(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusPaymentRequired} {
		gw := &stubGateway{err: &providers.APIError{StatusCode: status, Message: "quota exceeded"}}
		server, _ := newTestServer(t, gw, nil)

		rec := postJSON(t, server.Handler(), "/api/chat", map[string]any{
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		})

		assert.Equal(t, status, rec.Code)
		assert.Contains(t, rec.Body.String(), "quota exceeded")
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	server, _ := newTestServer(t, &stubGateway{}, nil)
	rec := postJSON(t, server.Handler(), "/api/chat", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractEndpointShortGuard(t *testing.T) {
	server, _ := newTestServer(t, &stubGateway{}, nil)

	rec := postJSON(t, server.Handler(), "/api/memory/extract", map[string]any{
		"userId":   "u1",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExtractEndpointCounts(t *testing.T) {
	reply := `{"summary": {"text": "We talked.", "emotional_tone": "calm"}}`
	server, _ := newTestServer(t, &stubGateway{}, func(ctx context.Context, system, user string, temperature float64) (string, error) {
		return reply, nil
	})

	rec := postJSON(t, server.Handler(), "/api/memory/extract", map[string]any{
		"userId": "u1",
		"messages": []map[string]string{
			{"role": "user", "content": "a"}, {"role": "assistant", "content": "b"},
			{"role": "user", "content": "c"}, {"role": "assistant", "content": "d"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var counts memory.ExtractionCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts.Summaries)
	assert.Equal(t, 0, counts.Facts)
}

func TestFactCRUDOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, &stubGateway{}, nil)
	handler := server.Handler()

	rec := postJSON(t, handler, "/api/memory/facts", map[string]string{
		"userId": "u1", "category": "goal", "key": "run_marathon", "value": "Run a marathon",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var fact memory.MemoryFact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fact))
	assert.Equal(t, memory.SourceExplicit, fact.Source)
	assert.Equal(t, 1.0, fact.Confidence)

	req := httptest.NewRequest(http.MethodGet, "/api/memory/facts?user_id=u1&category=goal", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var facts []memory.MemoryFact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &facts))
	require.Len(t, facts, 1)

	req = httptest.NewRequest(http.MethodDelete, "/api/memory/facts/"+facts[0].ID+"?user_id=u1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/memory/facts/"+facts[0].ID+"?user_id=u1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadEndpointsRequireUserID(t *testing.T) {
	server, _ := newTestServer(t, &stubGateway{}, nil)
	handler := server.Handler()

	for _, path := range []string{
		"/api/memory/facts", "/api/memory/summaries", "/api/memory/emotions",
		"/api/memory/identity", "/api/insights", "/api/rituals",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestInsightLifecycleOverHTTP(t *testing.T) {
	server, svc := newTestServer(t, &stubGateway{}, func(ctx context.Context, system, user string, temperature float64) (string, error) {
		return "", &providers.APIError{StatusCode: 500, Message: "down"}
	})
	handler := server.Handler()
	ctx := context.Background()

	// Five negative events trip the mood check during the fetch-triggered scan.
	store := svc.Store()
	for i := 0; i < 5; i++ {
		_, err := store.InsertEmotion(ctx, memory.EmotionalPattern{
			UserID: "u1", Emotion: "tense", Intensity: 0.6, Polarity: memory.PolarityNegative,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/insights?user_id=u1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var insights []memory.ProactiveInsight
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &insights))
	require.NotEmpty(t, insights)

	rec = postJSON(t, handler, "/api/insights/"+insights[0].ID+"/surface?user_id=u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Surfaced insights drop out of the pending set.
	req = httptest.NewRequest(http.MethodGet, "/api/insights?user_id=u1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var after []memory.ProactiveInsight
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	for _, ins := range after {
		assert.NotEqual(t, insights[0].ID, ins.ID)
	}
}

func TestRitualEndpointFallback(t *testing.T) {
	prose := "A quiet day. Rest well."
	server, _ := newTestServer(t, &stubGateway{}, func(ctx context.Context, system, user string, temperature float64) (string, error) {
		return prose, nil
	})

	rec := postJSON(t, server.Handler(), "/api/rituals", map[string]string{"userId": "u1", "type": "daily"})
	require.Equal(t, http.StatusOK, rec.Code)

	var rit memory.RitualSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rit))
	assert.Equal(t, prose, rit.Summary)
	assert.Empty(t, rit.Accomplishments)

	rec = postJSON(t, server.Handler(), "/api/rituals", map[string]string{"userId": "u1", "type": "monthly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t, &stubGateway{}, nil)
	handler := server.Handler()

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
