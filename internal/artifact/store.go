package artifact

import (
	"context"
	"errors"
)

// ErrDuplicate signals that an insert collided with an existing row: a
// second record for the same (source id, title) pair, or a second source
// with the same base URL.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// RecordStore is the persistence collaborator the orchestrator reads from
// and writes to. Implementations must be safe for concurrent use; the
// dedup check-then-insert sequence is not linearized and callers treat an
// ErrDuplicate from InsertRecord as a skip.
type RecordStore interface {
	// FindRecord returns the record for (sourceID, title) or ErrNotFound.
	FindRecord(ctx context.Context, sourceID, title string) (Record, error)
	// InsertRecord persists a candidate and returns the stored record.
	// Returns ErrDuplicate when a record already exists for the pair.
	InsertRecord(ctx context.Context, cand Candidate) (Record, error)
	// ListRecords returns the most recent records, newest first.
	ListRecords(ctx context.Context, limit int) ([]Record, error)
	// CountRecords reports the total number of stored records.
	CountRecords(ctx context.Context) (int64, error)
	// AppendContribution appends one entry to a record's contribution
	// list. Returns ErrNotFound when the record does not exist.
	AppendContribution(ctx context.Context, recordID string, contrib Contribution) error

	// ListSources returns sources ordered by creation time. A non-empty
	// filterID restricts the result to that single source.
	ListSources(ctx context.Context, filterID string) ([]Source, error)
	// CreateSource inserts a source; baseURL must already be normalized.
	// Returns ErrDuplicate when the base URL is taken.
	CreateSource(ctx context.Context, name, baseURL string) (Source, error)
	// DeleteSource removes a source or returns ErrNotFound.
	DeleteSource(ctx context.Context, id string) error

	// Close releases the underlying resources.
	Close()
}
