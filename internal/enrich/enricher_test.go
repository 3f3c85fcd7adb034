package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func generateHandler(t *testing.T, respond func(req generateRequest) string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: respond(req)})
	}
}

func TestEndpointsOrderAndDedup(t *testing.T) {
	t.Parallel()

	eps := endpoints("http://ollama.internal:11434/")
	require.Equal(t, "http://ollama.internal:11434/api/generate", eps[0])
	require.Len(t, eps, 5)

	// A primary matching a fallback must not appear twice.
	eps = endpoints("http://localhost:11434")
	require.Equal(t, "http://localhost:11434/api/generate", eps[0])
	require.Len(t, eps, 4)
}

func TestSummarizeUsesServiceReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(req generateRequest) string {
		require.Equal(t, "llama3", req.Model)
		require.False(t, req.Stream)
		require.Empty(t, req.Format)
		require.Contains(t, req.Prompt, "Bronze Amphora")
		return "A cast bronze vessel used for wine storage. Attributed to Attic workshops."
	}))
	defer srv.Close()

	e := New(srv.URL, "llama3", srv.Client(), zap.NewNop())
	got := e.Summarize(context.Background(), map[string]any{"title": "Bronze Amphora"})
	require.Equal(t, "A cast bronze vessel used for wine storage. Attributed to Attic workshops.", got)
}

func TestNilClientGetsPrivateTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(generateRequest) string {
		return "summary over private client"
	}))
	defer srv.Close()

	e := New(srv.URL, "llama3", nil, zap.NewNop())
	got := e.Summarize(context.Background(), map[string]any{"title": "Amphora"})
	require.Equal(t, "summary over private client", got)

	// Repeated calls reuse the same private client without panicking.
	got = e.Summarize(context.Background(), map[string]any{"title": "Amphora"})
	require.Equal(t, "summary over private client", got)
}

func TestSummarizeFallsBackWhenUnreachable(t *testing.T) {
	t.Parallel()

	// Point at a server that is already closed so every endpoint fails fast.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := srv.Client()
	srv.Close()

	e := New(srv.URL, "llama3", client, zap.NewNop())
	e.endpoints = []string{srv.URL + "/api/generate"}

	got := e.Summarize(context.Background(), map[string]any{
		"title":   "Amphora",
		"culture": "Greek",
	})
	require.Equal(t,
		"A historical Amphora originating from the Greek during the Unknown Era. This artifact is crafted primarily from mixed media.",
		got)
}

func TestSummarizeFallsBackOnEmptyReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(generateRequest) string { return "" }))
	defer srv.Close()

	e := New(srv.URL, "llama3", srv.Client(), zap.NewNop())
	got := e.Summarize(context.Background(), map[string]any{})
	require.Equal(t,
		"A historical Artifact originating from the Unknown Culture during the Unknown Era. This artifact is crafted primarily from mixed media.",
		got)
}

func TestSummarizeSkipsFailingEndpoint(t *testing.T) {
	t.Parallel()

	var primaryHits atomic.Int64
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	working := httptest.NewServer(generateHandler(t, func(generateRequest) string {
		return "summary from fallback"
	}))
	defer working.Close()

	e := New(failing.URL, "llama3", failing.Client(), zap.NewNop())
	e.endpoints = []string{failing.URL + "/api/generate", working.URL + "/api/generate"}

	got := e.Summarize(context.Background(), map[string]any{"title": "Seal"})
	require.Equal(t, "summary from fallback", got)
	require.Equal(t, int64(1), primaryHits.Load())
}

func TestExtractArtifactParsesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(req generateRequest) string {
		require.Equal(t, "json", req.Format)
		return `{"title":"Cylinder Seal","description":"Carved stone seal.","culture":"Akkadian","period":"c. 2300 BCE","medium":"Serpentine"}`
	}))
	defer srv.Close()

	e := New(srv.URL, "llama3", srv.Client(), zap.NewNop())
	got := e.ExtractArtifact(context.Background(), "museum page text")
	require.Equal(t, "Cylinder Seal", got.Title)
	require.Equal(t, "Akkadian", got.Culture)
	require.Equal(t, "Serpentine", got.Medium)
}

func TestExtractArtifactTruncatesText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(req generateRequest) string {
		idx := strings.Index(req.Prompt, "TEXT:\n")
		require.GreaterOrEqual(t, idx, 0)
		require.Len(t, req.Prompt[idx+len("TEXT:\n"):], 2000)
		return `{}`
	}))
	defer srv.Close()

	e := New(srv.URL, "llama3", srv.Client(), zap.NewNop())
	got := e.ExtractArtifact(context.Background(), strings.Repeat("x", 5000))
	require.Empty(t, got.Title)
}

func TestExtractArtifactBadJSONIsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(generateHandler(t, func(generateRequest) string {
		return "not json at all"
	}))
	defer srv.Close()

	e := New(srv.URL, "llama3", srv.Client(), zap.NewNop())
	require.Equal(t, Extraction{}, e.ExtractArtifact(context.Background(), "text"))
}

func TestExtractArtifactUnreachableIsEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := srv.Client()
	srv.Close()

	e := New(srv.URL, "llama3", client, zap.NewNop())
	e.endpoints = []string{srv.URL + "/api/generate"}
	require.Equal(t, Extraction{}, e.ExtractArtifact(context.Background(), "text"))
}

func TestFallbackSummaryDefaults(t *testing.T) {
	t.Parallel()

	got := FallbackSummary(map[string]any{
		"title":  "Ushabti",
		"medium": "Faience",
	})
	require.Equal(t,
		"A historical Ushabti originating from the Unknown Culture during the Unknown Era. This artifact is crafted primarily from Faience.",
		got)
}
