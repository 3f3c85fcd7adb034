// Package scraper implements the source processors and the run
// orchestrator that drives them.
package scraper

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/artifact"
	"github.com/histocoin/artifact-miner/internal/enrich"
	"github.com/histocoin/artifact-miner/internal/extract"
	"github.com/histocoin/artifact-miner/internal/fetch"
	"github.com/histocoin/artifact-miner/internal/metrics"
	"github.com/histocoin/artifact-miner/internal/notify"
)

// Default collection API endpoints for structured sources.
const (
	defaultSearchURL       = "https://collectionapi.metmuseum.org/public/collection/v1/search?q=ancient&hasImages=true"
	defaultObjectURLPrefix = "https://collectionapi.metmuseum.org/public/collection/v1/objects/"
)

const searchCacheKey = "search"

// ProcessorsConfig wires the collaborators every source processor needs.
type ProcessorsConfig struct {
	Fetcher    *fetch.Client
	Enricher   *enrich.Enricher
	Store      artifact.RecordStore
	Robots     *fetch.RobotsGate // nil disables robots checks
	Notifier   notify.Publisher
	Gate       *Gate
	SampleSize int
	// SearchCache holds collection search results across passes.
	SearchCache *gocache.Cache
	Logger      *zap.Logger
}

// Processors turns one source into zero or more persisted artifact
// records. Failures are logged and swallowed; a bad object or page never
// aborts the pass.
type Processors struct {
	fetcher     *fetch.Client
	enricher    *enrich.Enricher
	store       artifact.RecordStore
	robots      *fetch.RobotsGate
	notifier    notify.Publisher
	gate        *Gate
	sampleSize  int
	searchCache *gocache.Cache
	logger      *zap.Logger

	// Overridable in tests.
	searchURL       string
	objectURLPrefix string
}

// NewProcessors builds the processor set.
func NewProcessors(cfg ProcessorsConfig) *Processors {
	gate := cfg.Gate
	if gate == nil {
		gate = NewGate(4)
	}
	sample := cfg.SampleSize
	if sample < 1 {
		sample = 3
	}
	cache := cfg.SearchCache
	if cache == nil {
		cache = gocache.New(gocache.NoExpiration, 0)
	}
	return &Processors{
		fetcher:         cfg.Fetcher,
		enricher:        cfg.Enricher,
		store:           cfg.Store,
		robots:          cfg.Robots,
		notifier:        cfg.Notifier,
		gate:            gate,
		sampleSize:      sample,
		searchCache:     cache,
		logger:          cfg.Logger,
		searchURL:       defaultSearchURL,
		objectURLPrefix: defaultObjectURLPrefix,
	}
}

// IsStructured reports whether the source points at the collection API
// rather than an arbitrary page.
func IsStructured(baseURL string) bool {
	return strings.Contains(strings.ToLower(baseURL), "metmuseum")
}

// Process dispatches one source to the matching processor.
func (p *Processors) Process(ctx context.Context, src artifact.Source) {
	if IsStructured(src.BaseURL) {
		p.ProcessStructuredSource(ctx, src)
		return
	}
	p.ProcessGenericSource(ctx, src)
}

type searchResult struct {
	ObjectIDs []int `json:"objectIDs"`
}

// ProcessStructuredSource samples object IDs from the collection search
// endpoint and processes each one concurrently, bounded by the gate.
func (p *Processors) ProcessStructuredSource(ctx context.Context, src artifact.Source) {
	ids := p.searchObjectIDs(ctx)
	if len(ids) == 0 {
		p.logger.Warn("collection search returned no object ids", zap.String("source", src.Name))
		return
	}

	sampled := SampleIDs(ids, p.sampleSize)
	p.logger.Info("processing structured source",
		zap.String("source", src.Name),
		zap.Int("pool", len(ids)),
		zap.Int("sampled", len(sampled)),
	)

	var wg sync.WaitGroup
	for _, objectID := range sampled {
		if err := p.gate.Acquire(ctx); err != nil {
			p.logger.Warn("run canceled while waiting for slot", zap.Error(err))
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.gate.Release()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("object task panicked",
						zap.Int("object_id", objectID),
						zap.Any("panic", r),
					)
				}
			}()
			p.processStructuredObject(ctx, objectID, src.ID)
		}()
	}
	wg.Wait()
}

// searchObjectIDs fetches the object ID pool, serving repeated passes from
// the cache until the entry expires.
func (p *Processors) searchObjectIDs(ctx context.Context) []int {
	if cached, ok := p.searchCache.Get(searchCacheKey); ok {
		return cached.([]int)
	}
	var result searchResult
	if !p.fetcher.FetchJSON(ctx, p.searchURL, &result) {
		return nil
	}
	if len(result.ObjectIDs) > 0 {
		p.searchCache.SetDefault(searchCacheKey, result.ObjectIDs)
	}
	return result.ObjectIDs
}

// processStructuredObject fetches one collection object and persists it
// when it is public domain, carries an image, and is not yet recorded.
// The whole object payload is kept as record metadata.
func (p *Processors) processStructuredObject(ctx context.Context, objectID int, sourceID string) {
	url := p.objectURLPrefix + strconv.Itoa(objectID)
	var obj map[string]any
	if !p.fetcher.FetchJSON(ctx, url, &obj) {
		return
	}
	publicDomain, _ := obj["isPublicDomain"].(bool)
	primaryImage, _ := obj["primaryImage"].(string)
	if !publicDomain || primaryImage == "" {
		return
	}

	title, _ := obj["title"].(string)
	if title == "" {
		title = "Unknown Artifact"
		obj["title"] = title
	}

	if _, err := p.store.FindRecord(ctx, sourceID, title); err == nil {
		p.logger.Info("skipping duplicate", zap.String("title", title))
		metrics.ObserveDuplicateSkipped()
		return
	} else if !errors.Is(err, artifact.ErrNotFound) {
		p.logger.Error("dedup lookup failed", zap.String("title", title), zap.Error(err))
		return
	}

	p.logger.Info("processing object", zap.String("title", title), zap.Int("object_id", objectID))

	description := p.enricher.Summarize(ctx, obj)

	p.save(ctx, artifact.Candidate{
		SourceID:    sourceID,
		Title:       title,
		Description: description,
		Metadata:    obj,
		ImageURL:    primaryImage,
	}, "structured")
}

// ProcessGenericSource scrapes an arbitrary page: fetch, extract text and
// image, ask the enricher for a structured artifact, persist it.
func (p *Processors) ProcessGenericSource(ctx context.Context, src artifact.Source) {
	p.logger.Info("processing generic source",
		zap.String("source", src.Name),
		zap.String("url", src.BaseURL),
	)

	if p.robots != nil && !p.robots.Allow(ctx, src.BaseURL) {
		p.logger.Info("robots disallow, skipping", zap.String("url", src.BaseURL))
		return
	}

	html, ok := p.fetcher.FetchText(ctx, src.BaseURL)
	if !ok {
		return
	}

	content := extract.Extract(html, src.BaseURL)
	extracted := p.enricher.ExtractArtifact(ctx, content.Text)
	if extracted.Title == "" {
		p.logger.Info("no artifact found on page", zap.String("url", src.BaseURL))
		return
	}

	if _, err := p.store.FindRecord(ctx, src.ID, extracted.Title); err == nil {
		p.logger.Info("skipping duplicate", zap.String("title", extracted.Title))
		metrics.ObserveDuplicateSkipped()
		return
	} else if !errors.Is(err, artifact.ErrNotFound) {
		p.logger.Error("dedup lookup failed", zap.String("title", extracted.Title), zap.Error(err))
		return
	}

	description := extracted.Description
	if description == "" {
		description = "No description"
	}

	metadata := map[string]any{
		"title":       extracted.Title,
		"description": extracted.Description,
		"culture":     extracted.Culture,
		"period":      extracted.Period,
		"medium":      extracted.Medium,
	}
	if content.Title != "" {
		metadata["page_title"] = content.Title
	}

	p.save(ctx, artifact.Candidate{
		SourceID:    src.ID,
		Title:       extracted.Title,
		Description: description,
		Metadata:    metadata,
		ImageURL:    content.ImageURL,
	}, "generic")
}

// save inserts the candidate, treating a duplicate collision as a skip,
// and notifies downstream consumers on success.
func (p *Processors) save(ctx context.Context, cand artifact.Candidate, kind string) {
	rec, err := p.store.InsertRecord(ctx, cand)
	if err != nil {
		if errors.Is(err, artifact.ErrDuplicate) {
			p.logger.Info("lost insert race, skipping duplicate", zap.String("title", cand.Title))
			metrics.ObserveDuplicateSkipped()
			return
		}
		p.logger.Error("saving artifact failed", zap.String("title", cand.Title), zap.Error(err))
		return
	}

	metrics.ObserveArtifactSaved(kind)
	p.logger.Info("saved artifact", zap.String("title", rec.Title), zap.String("record_id", rec.ID))

	if p.notifier != nil {
		err := p.notifier.Publish(ctx, notify.SavedArtifact{
			RecordID: rec.ID,
			SourceID: rec.SourceID,
			Title:    rec.Title,
		})
		if err != nil {
			p.logger.Warn("notify failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
}
