// Package enrich generates artifact descriptions through an Ollama-style
// generation service, with deterministic fallbacks when the service is
// unreachable.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/fetch"
	"github.com/histocoin/artifact-miner/internal/metrics"
)

const generatePath = "/api/generate"

// fallbackHosts are tried, in order, after the configured host. They cover
// the usual places a local generation service listens when the miner runs
// inside a container.
var fallbackHosts = []string{
	"http://host.docker.internal:11434",
	"http://localhost:11434",
	"http://172.17.0.1:11434",
	"http://127.0.0.1:11434",
}

// Extraction is the structured result of analyzing raw page text.
type Extraction struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Culture     string `json:"culture"`
	Period      string `json:"period"`
	Medium      string `json:"medium"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// privateClientTimeout bounds calls made through the fallback client.
const privateClientTimeout = 60 * time.Second

// Enricher talks to the generation service. All methods degrade rather
// than fail: callers always get a usable value back.
type Enricher struct {
	model      string
	endpoints  []string
	httpClient *http.Client
	ownsClient bool
	logger     *zap.Logger
}

// New builds an Enricher for the given host and model. The client is
// normally shared with the rest of the pipeline so connection limits
// apply across fetches and generation calls alike; a nil client gets a
// private bounded transport whose idle connections are released after
// each call.
func New(host, model string, client *http.Client, logger *zap.Logger) *Enricher {
	owns := false
	if client == nil {
		client = &http.Client{
			Timeout:   privateClientTimeout,
			Transport: fetch.NewTransport(fetch.Config{ConnectorLimit: 4}),
		}
		owns = true
	}
	return &Enricher{
		model:      model,
		endpoints:  endpoints(host),
		httpClient: client,
		ownsClient: owns,
		logger:     logger,
	}
}

// endpoints builds the ordered candidate list: the configured host first,
// then the fixed fallbacks, skipping any fallback equal to the primary.
func endpoints(host string) []string {
	primary := strings.TrimSuffix(host, "/") + generatePath
	out := []string{primary}
	for _, h := range fallbackHosts {
		ep := h + generatePath
		if ep != primary {
			out = append(out, ep)
		}
	}
	return out
}

// Summarize produces a short clinical description from artifact metadata.
// When every endpoint fails or the service returns nothing, the
// deterministic template summary is used instead.
func (e *Enricher) Summarize(ctx context.Context, metadata map[string]any) string {
	meta, err := json.Marshal(metadata)
	if err != nil {
		e.logger.Warn("metadata not serializable, using template summary", zap.Error(err))
		return FallbackSummary(metadata)
	}

	prompt := fmt.Sprintf(`Summarize this historical artifact in 2 sentences based strictly on its metadata.
Focus ONLY on materials, function, dimensions, and specific cultural origins.
Do NOT use phrases like "testament to", "art style of its time",
"showcases the skill", or "beautifully crafted".
Be clinical, archaeological, and precise.

Metadata: %s`, meta)

	text, ok := e.generate(ctx, generateRequest{
		Model:  e.model,
		Prompt: prompt,
		Stream: false,
	})
	if !ok || text == "" {
		metrics.ObserveEnrichFallback("summarize")
		e.logger.Warn("generation service unreachable, using template summary")
		return FallbackSummary(metadata)
	}
	return text
}

// ExtractArtifact asks the service to pull a structured artifact out of
// raw page text. Text is truncated before prompting; an unreachable
// service or an unparseable reply yields a zero Extraction.
func (e *Enricher) ExtractArtifact(ctx context.Context, pageText string) Extraction {
	if len(pageText) > 2000 {
		pageText = pageText[:2000]
	}

	prompt := fmt.Sprintf(`Analyze this website text and extract a historical artifact.
Return ONLY valid JSON with keys: title, description, culture, period, medium.
If no clear artifact is found, return empty JSON {}.

TEXT:
%s`, pageText)

	text, ok := e.generate(ctx, generateRequest{
		Model:  e.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	})
	if !ok {
		metrics.ObserveEnrichFallback("extract")
		e.logger.Warn("generation service unreachable, no extraction")
		return Extraction{}
	}
	if text == "" {
		return Extraction{}
	}

	var extracted Extraction
	if err := json.Unmarshal([]byte(text), &extracted); err != nil {
		e.logger.Warn("generation reply is not valid JSON", zap.Error(err))
		return Extraction{}
	}
	return extracted
}

// generate posts the request to each endpoint in order and returns the
// first successful reply. ok is false only when every endpoint failed.
func (e *Enricher) generate(ctx context.Context, payload generateRequest) (string, bool) {
	if e.ownsClient {
		defer e.httpClient.CloseIdleConnections()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("generate payload not serializable", zap.Error(err))
		return "", false
	}

	for _, endpoint := range e.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			e.logger.Warn("bad generate endpoint", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			e.logger.Warn("generate call failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			e.logger.Warn("generate call non-200",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}

		var decoded generateResponse
		err = json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if err != nil {
			e.logger.Warn("generate reply unreadable",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}
		return decoded.Response, true
	}
	return "", false
}

// FallbackSummary renders the deterministic template description used when
// the generation service is unavailable.
func FallbackSummary(metadata map[string]any) string {
	return fmt.Sprintf(
		"A historical %s originating from the %s during the %s. This artifact is crafted primarily from %s.",
		metaString(metadata, "title", "Artifact"),
		metaString(metadata, "culture", "Unknown Culture"),
		metaString(metadata, "period", "Unknown Era"),
		metaString(metadata, "medium", "mixed media"),
	)
}

func metaString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
