package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/histocoin/artifact-miner/internal/artifact"
)

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRecordStoreWithPool(mock, "artifacts")
	require.NoError(t, err)
	return store, mock
}

func TestInsertRecordInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs(
			pgxmock.AnyArg(),
			"src-1",
			"Bronze Amphora",
			"A cast bronze vessel.",
			[]byte(`{"culture":"Greek"}`),
			"https://cdn.example/amphora.jpg",
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := store.InsertRecord(context.Background(), artifact.Candidate{
		SourceID:    "src-1",
		Title:       "Bronze Amphora",
		Description: "A cast bronze vessel.",
		Metadata:    map[string]any{"culture": "Greek"},
		ImageURL:    "https://cdn.example/amphora.jpg",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "Bronze Amphora", rec.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO artifacts").
		WithArgs(
			pgxmock.AnyArg(), "src-1", "Bronze Amphora", "", []byte(`null`), "", pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	_, err := store.InsertRecord(context.Background(), artifact.Candidate{
		SourceID: "src-1",
		Title:    "Bronze Amphora",
	})
	require.ErrorIs(t, err, artifact.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordRejectsInvalidCandidate(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	_, err := store.InsertRecord(context.Background(), artifact.Candidate{SourceID: "src-1"})
	require.Error(t, err)
}

func TestFindRecordReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "source_id", "title", "description", "metadata", "image_url", "contributions", "created_at",
	}).AddRow(
		"rec-1", "src-1", "Bronze Amphora", "A vessel.",
		[]byte(`{"period":"5th century BCE"}`), "https://cdn.example/a.jpg",
		[]byte(`[{"contributor_id":"node-7","content":"provenance note"}]`), now,
	)

	mock.ExpectQuery("SELECT id, source_id, title").
		WithArgs("src-1", "Bronze Amphora").
		WillReturnRows(rows)

	rec, err := store.FindRecord(context.Background(), "src-1", "Bronze Amphora")
	require.NoError(t, err)
	require.Equal(t, "rec-1", rec.ID)
	require.Equal(t, "5th century BCE", rec.Metadata["period"])
	require.Len(t, rec.Contributions, 1)
	require.Equal(t, "node-7", rec.Contributions[0].ContributorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRecordNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, source_id, title").
		WithArgs("src-1", "Missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindRecord(context.Background(), "src-1", "Missing")
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestListRecordsScansAll(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "source_id", "title", "description", "metadata", "image_url", "contributions", "created_at",
	}).
		AddRow("rec-2", "src-1", "Ushabti", "", []byte(`{}`), "", []byte(`[]`), now).
		AddRow("rec-1", "src-1", "Amphora", "", []byte(`{}`), "", []byte(`[]`), now.Add(-time.Hour))

	mock.ExpectQuery("SELECT id, source_id, title").
		WithArgs(50).
		WillReturnRows(rows)

	recs, err := store.ListRecords(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "Ushabti", recs[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRecords(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	count, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), count)
}

func TestAppendContribution(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE artifacts").
		WithArgs([]byte(`[{"contributor_id":"node-7","content":"bubbles"}]`), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.AppendContribution(context.Background(), "rec-1", artifact.Contribution{
		ContributorID: "node-7",
		Content:       "bubbles",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendContributionMissingRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE artifacts").
		WithArgs(pgxmock.AnyArg(), "rec-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.AppendContribution(context.Background(), "rec-missing", artifact.Contribution{
		ContributorID: "node-7",
		Content:       "late note",
	})
	require.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestCreateSourceMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO sources").
		WithArgs(pgxmock.AnyArg(), "The Met", "https://www.metmuseum.org", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	_, err := store.CreateSource(context.Background(), "The Met", "https://www.metmuseum.org")
	require.ErrorIs(t, err, artifact.ErrDuplicate)
}

func TestDeleteSource(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sources").
		WithArgs("src-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.DeleteSource(context.Background(), "src-1"))

	mock.ExpectExec("DELETE FROM sources").
		WithArgs("src-gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, store.DeleteSource(context.Background(), "src-gone"), artifact.ErrNotFound)
}

func TestListSourcesWithFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, name, base_url").
		WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "base_url", "created_at"}).
			AddRow("src-1", "The Met", "https://www.metmuseum.org", now))

	srcs, err := store.ListSources(context.Background(), "src-1")
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	require.Equal(t, "The Met", srcs[0].Name)
}
