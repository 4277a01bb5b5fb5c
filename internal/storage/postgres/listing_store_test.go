package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/clock/fake"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*ListingStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewListingStoreWithPool(mock, "listings", fixedID("id-1"), fake.New(now), nil)
	require.NoError(t, err)
	return store, mock
}

func listingRow(id, kvartil string, status publish.Status, postedAt *time.Time, seq int64) *pgxmock.Rows {
	return pgxmock.NewRows(listingColumns).AddRow(
		id, publish.Fingerprint(kvartil, "2/3/9", "901"), kvartil, "2/3/9", "901", "50000", "", "",
		"", "", []byte(`["a.jpg"]`), []byte(`{}`), string(status), postedAt, "",
		now, now, seq,
	)
}

func TestNewListingStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewListingStoreWithPool(mock, "listings; DROP", fixedID("x"), fake.New(now), nil)
	require.Error(t, err)
	_, err = NewListingStoreWithPool(nil, "listings", fixedID("x"), fake.New(now), nil)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewListingStoreWithPool(mock, "listings", fixedID("id-1"), fake.New(now), nil)
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	require.NoError(t, store.Ping(context.Background()))
	require.ErrorContains(t, store.Ping(context.Background()), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS listings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS listings_status_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsOnConflictMerge(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	in := publish.ListingInput{Kvartil: "Minor", Xet: "2/3/9", Tell: "901", Narx: "50000", Images: []string{"a.jpg"}}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO listings .* ON CONFLICT \(unique_id\) DO UPDATE SET`).
		WithArgs(
			"id-1", in.Fingerprint(), "Minor", "2/3/9", "901", "50000", "", "", "", "",
			`["a.jpg"]`, `{}`, "waiting", now, now,
		).
		WillReturnRows(listingRow("id-1", "Minor", publish.StatusWaiting, nil, 1))
	mock.ExpectCommit()

	got, err := store.Upsert(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "id-1", got.ID)
	require.Equal(t, publish.StatusWaiting, got.Status)
	require.Equal(t, []string{"a.jpg"}, got.Images)
	require.Nil(t, got.Extra)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWithStatusRunsTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	processing := publish.StatusProcessing
	in := publish.ListingInput{Kvartil: "Minor", Xet: "2/3/9", Tell: "901", Status: &processing}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO listings").
		WillReturnRows(listingRow("id-1", "Minor", publish.StatusWaiting, nil, 1))
	mock.ExpectQuery(`SELECT status FROM listings WHERE id = \$1 FOR UPDATE`).
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("waiting"))
	mock.ExpectQuery("UPDATE listings SET status").
		WillReturnRows(listingRow("id-1", "Minor", publish.StatusProcessing, nil, 1))
	mock.ExpectCommit()

	got, err := store.Upsert(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, publish.StatusProcessing, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusLocksAndUpdates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	posted := now.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM listings WHERE id = \$1 FOR UPDATE`).
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectQuery(`UPDATE listings SET status = \$1, last_error = \$2, updated_at = \$3, posted_at = \$4 WHERE id = \$5 RETURNING`).
		WithArgs("posted", "", now, posted, "id-1").
		WillReturnRows(listingRow("id-1", "Minor", publish.StatusPosted, &posted, 1))
	mock.ExpectCommit()

	got, err := store.SetStatus(context.Background(), "id-1", publish.StatusPosted, &posted, "")
	require.NoError(t, err)
	require.Equal(t, publish.StatusPosted, got.Status)
	require.NotNil(t, got.PostedAt)
	require.Equal(t, posted, *got.PostedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM listings").
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("posted"))
	mock.ExpectRollback()

	_, err := store.SetStatus(context.Background(), "id-1", publish.StatusWaiting, nil, "")
	require.ErrorIs(t, err, publish.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM listings").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.SetStatus(context.Background(), "missing", publish.StatusProcessing, nil, "")
	require.ErrorIs(t, err, publish.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM listings WHERE id = \$1`).
		WithArgs("id-1").
		WillReturnRows(listingRow("id-1", "Kashgar", publish.StatusWaiting, nil, 4))
	mock.ExpectQuery(`SELECT .* FROM listings WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.GetByID(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, "Kashgar", got.Kvartil)
	require.Equal(t, int64(4), got.Seq)

	_, err = store.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, publish.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAllAppliesDisplayOrder(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows(listingColumns)
	for i, k := range []string{"Random", "Bodomzor", "Ц - 1", "Yunusobod - 10", "Yunusobod - 2"} {
		rows.AddRow(
			k, publish.Fingerprint(k, "1/1/1", "9"), k, "1/1/1", "9", "", "", "", "", "",
			[]byte(`[]`), []byte(`{}`), "waiting", nil, "", now, now, int64(i+1),
		)
	}
	mock.ExpectQuery(`SELECT .* FROM listings ORDER BY seq`).WillReturnRows(rows)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	got := make([]string, 0, len(all))
	for _, l := range all {
		got = append(got, l.Kvartil)
	}
	require.Equal(t, []string{"Yunusobod - 2", "Yunusobod - 10", "Ц - 1", "Bodomzor", "Random"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByStatusFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM listings WHERE status = \$1 ORDER BY seq`).
		WithArgs("processing").
		WillReturnRows(listingRow("id-9", "Minor", publish.StatusProcessing, nil, 9))

	got, err := store.ListByStatus(context.Background(), publish.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "id-9", got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
