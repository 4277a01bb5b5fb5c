// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

var listingColumns = []string{
	"id", "unique_id", "kvartil", "xet", "tell", "narx", "m2", "opisaniya", "sost",
	"rieltor", "images", "extra", "status", "posted_at", "last_error", "created_at",
	"updated_at", "seq",
}

// ListingStore persists listings in Postgres. Status changes lock the row so the
// transition check and the write are atomic.
type ListingStore struct {
	pool    pool
	table   string
	ids     publish.IDGenerator
	clock   publish.Clock
	orderer *publish.Orderer
	psql    sq.StatementBuilderType
}

var _ publish.ListingStore = (*ListingStore)(nil)

// NewListingStore connects to Postgres using the provided config.
func NewListingStore(
	ctx context.Context,
	cfg Config,
	ids publish.IDGenerator,
	clock publish.Clock,
	orderer *publish.Orderer,
) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewListingStoreWithPool(p, cfg.Table, ids, clock, orderer)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(
	p pool,
	table string,
	ids publish.IDGenerator,
	clock publish.Clock,
	orderer *publish.Orderer,
) (*ListingStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if orderer == nil {
		orderer = publish.NewOrderer(publish.DefaultOrdering)
	}
	return &ListingStore{
		pool:    p,
		table:   table,
		ids:     ids,
		clock:   clock,
		orderer: orderer,
		psql:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the listing table when it does not exist.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	unique_id   TEXT NOT NULL UNIQUE,
	kvartil     TEXT NOT NULL,
	xet         TEXT NOT NULL,
	tell        TEXT NOT NULL,
	narx        TEXT NOT NULL DEFAULT '',
	m2          TEXT NOT NULL DEFAULT '',
	opisaniya   TEXT NOT NULL DEFAULT '',
	sost        TEXT NOT NULL DEFAULT '',
	rieltor     TEXT NOT NULL DEFAULT '',
	images      JSONB NOT NULL DEFAULT '[]',
	extra       JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'waiting',
	posted_at   TIMESTAMPTZ,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	seq         BIGSERIAL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure listing schema: %w", err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("ensure listing index: %w", err)
	}
	return nil
}

// Upsert inserts a listing or merges non-empty input fields into the row sharing its
// fingerprint. An explicit status is applied in the same transaction.
func (s *ListingStore) Upsert(ctx context.Context, input publish.ListingInput) (publish.Listing, error) {
	if err := input.Validate(); err != nil {
		return publish.Listing{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return publish.Listing{}, fmt.Errorf("assign listing id: %w", err)
	}
	images, err := json.Marshal(nonNilImages(input.Images))
	if err != nil {
		return publish.Listing{}, fmt.Errorf("marshal images: %w", err)
	}
	extra, err := json.Marshal(nonNilExtra(input.Extra))
	if err != nil {
		return publish.Listing{}, fmt.Errorf("marshal extra: %w", err)
	}
	now := s.clock.Now()

	query, args, err := s.psql.
		Insert(s.table).
		Columns(
			"id", "unique_id", "kvartil", "xet", "tell", "narx", "m2", "opisaniya",
			"sost", "rieltor", "images", "extra", "status", "created_at", "updated_at",
		).
		Values(
			id, input.Fingerprint(), input.Kvartil, input.Xet, input.Tell, input.Narx,
			input.M2, input.Opisaniya, input.Sost, input.Rieltor, string(images), string(extra),
			string(publish.StatusWaiting), now, now,
		).
		Suffix(upsertSuffix(s.table)).
		ToSql()
	if err != nil {
		return publish.Listing{}, fmt.Errorf("build upsert: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return publish.Listing{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	listing, err := scanListing(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return publish.Listing{}, fmt.Errorf("upsert listing: %w", err)
	}
	if input.Status != nil {
		listing, err = s.transition(ctx, tx, listing.ID, *input.Status, nil, listing.LastError, now)
		if err != nil {
			return publish.Listing{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return publish.Listing{}, fmt.Errorf("commit upsert: %w", err)
	}
	// The freshly generated id only survives when the row was inserted.
	metrics.ObserveUpsert(listing.ID == id)
	return listing, nil
}

func upsertSuffix(table string) string {
	merge := func(col string) string {
		return fmt.Sprintf("%[1]s = COALESCE(NULLIF(EXCLUDED.%[1]s, ''), %[2]s.%[1]s)", col, table)
	}
	return fmt.Sprintf(`ON CONFLICT (unique_id) DO UPDATE SET
	%s, %s, %s, %s, %s, %s, %s, %s,
	images = CASE WHEN jsonb_array_length(EXCLUDED.images) > 0 THEN EXCLUDED.images ELSE %[9]s.images END,
	extra = %[9]s.extra || EXCLUDED.extra,
	updated_at = EXCLUDED.updated_at
RETURNING `,
		merge("kvartil"), merge("xet"), merge("tell"), merge("narx"),
		merge("m2"), merge("opisaniya"), merge("sost"), merge("rieltor"),
		table,
	) + joinColumns()
}

// GetAll returns every listing in display order.
func (s *ListingStore) GetAll(ctx context.Context) ([]publish.Listing, error) {
	return s.list(ctx, s.psql.Select(listingColumns...).From(s.table).OrderBy("seq"))
}

// ListByStatus returns listings in the given status, in display order.
func (s *ListingStore) ListByStatus(ctx context.Context, status publish.Status) ([]publish.Listing, error) {
	return s.list(ctx, s.psql.Select(listingColumns...).
		From(s.table).
		Where(sq.Eq{"status": string(status)}).
		OrderBy("seq"))
}

func (s *ListingStore) list(ctx context.Context, builder sq.SelectBuilder) ([]publish.Listing, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []publish.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	s.orderer.Sort(out)
	return out, nil
}

// GetByID fetches one listing.
func (s *ListingStore) GetByID(ctx context.Context, id string) (publish.Listing, error) {
	query, args, err := s.psql.Select(listingColumns...).
		From(s.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return publish.Listing{}, fmt.Errorf("build select: %w", err)
	}
	l, err := scanListing(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return publish.Listing{}, publish.ErrNotFound
	}
	if err != nil {
		return publish.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// SetStatus moves a listing along the lifecycle graph under a row lock.
func (s *ListingStore) SetStatus(
	ctx context.Context,
	id string,
	status publish.Status,
	postedAt *time.Time,
	reason string,
) (publish.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return publish.Listing{}, fmt.Errorf("begin set status: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	l, err := s.transition(ctx, tx, id, status, postedAt, reason, s.clock.Now())
	if err != nil {
		return publish.Listing{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return publish.Listing{}, fmt.Errorf("commit set status: %w", err)
	}
	return l, nil
}

func (s *ListingStore) transition(
	ctx context.Context,
	tx pgx.Tx,
	id string,
	status publish.Status,
	postedAt *time.Time,
	reason string,
	now time.Time,
) (publish.Listing, error) {
	lockQuery, lockArgs, err := s.psql.Select("status").
		From(s.table).
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return publish.Listing{}, fmt.Errorf("build lock: %w", err)
	}
	var current string
	if err := tx.QueryRow(ctx, lockQuery, lockArgs...).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return publish.Listing{}, publish.ErrNotFound
		}
		return publish.Listing{}, fmt.Errorf("lock listing: %w", err)
	}
	if err := publish.CheckTransition(publish.Status(current), status); err != nil {
		return publish.Listing{}, fmt.Errorf("set status %s: %w", id, err)
	}

	update := s.psql.Update(s.table).
		Set("status", string(status)).
		Set("last_error", reason).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + joinColumns())
	if postedAt != nil {
		update = update.Set("posted_at", postedAt.UTC())
	}
	query, args, err := update.ToSql()
	if err != nil {
		return publish.Listing{}, fmt.Errorf("build update: %w", err)
	}
	l, err := scanListing(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return publish.Listing{}, fmt.Errorf("update status: %w", err)
	}
	return l, nil
}

func scanListing(row pgx.Row) (publish.Listing, error) {
	var (
		l      publish.Listing
		status string
		images []byte
		extra  []byte
	)
	if err := row.Scan(
		&l.ID, &l.UniqueID, &l.Kvartil, &l.Xet, &l.Tell, &l.Narx, &l.M2, &l.Opisaniya,
		&l.Sost, &l.Rieltor, &images, &extra, &status, &l.PostedAt, &l.LastError,
		&l.CreatedAt, &l.UpdatedAt, &l.Seq,
	); err != nil {
		return publish.Listing{}, err
	}
	l.Status = publish.Status(status)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &l.Images); err != nil {
			return publish.Listing{}, fmt.Errorf("decode images: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &l.Extra); err != nil {
			return publish.Listing{}, fmt.Errorf("decode extra: %w", err)
		}
		if len(l.Extra) == 0 {
			l.Extra = nil
		}
	}
	if len(l.Images) == 0 {
		l.Images = nil
	}
	return l, nil
}

func joinColumns() string {
	return strings.Join(listingColumns, ", ")
}

func nonNilImages(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilExtra(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}
