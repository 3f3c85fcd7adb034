// Package artifact defines the domain types shared across the miner:
// configured sources, candidate artifacts produced by the scrapers, and
// persisted artifact records.
package artifact

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source is a configured origin the orchestrator scrapes: either a
// structured collection API or an arbitrary web page.
type Source struct {
	// ID is an opaque identifier assigned by the record store.
	ID string `json:"id"`
	// Name is the human-readable label shown in status reports.
	Name string `json:"name"`
	// BaseURL is the normalized canonical URL; unique across sources.
	BaseURL string `json:"base_url"`
	// CreatedAt is set by the store on insert.
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a transient artifact produced by a source processor. It is
// not yet persisted; the deduplicating writer decides whether it becomes a
// Record.
type Candidate struct {
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	ImageURL    string         `json:"image_url"`
}

// Validate checks the invariants a candidate must satisfy before insert.
func (c Candidate) Validate() error {
	if c.SourceID == "" {
		return errors.New("candidate source id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("candidate title is required")
	}
	return nil
}

// Contribution is one reporting node's submission toward a shared record.
// Contributions are append-only and ordered.
type Contribution struct {
	ContributorID string `json:"contributor_id"`
	Content       string `json:"content"`
}

// Record is a persisted artifact. At most one record exists per
// (source id, title) pair.
type Record struct {
	ID            string         `json:"id"`
	SourceID      string         `json:"source_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	Contributions []Contribution `json:"contributions,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NormalizeBaseURL canonicalizes a source URL: lower-cased scheme and host,
// no trailing slash, no fragment. A missing scheme defaults to https.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("base url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base url is missing a host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
