// Package snapshot implements the listing store on top of a single JSON document.
//
// Listings live in an in-memory arena indexed by id and uniqueId. Every write
// persists the whole document atomically (temp file + rename) before the in-memory
// state is swapped, so a failed write leaves both the file and the index untouched.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/fileutil"
	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config captures the parameters for the snapshot store.
type Config struct {
	// Path is the JSON document holding every listing.
	Path string `mapstructure:"path"`
}

type document struct {
	Objects    []publish.Listing `json:"objects"`
	LastUpdate time.Time         `json:"lastUpdate"`
	Version    int64             `json:"version"`
}

// Store is a publish.ListingStore persisted as one JSON snapshot.
type Store struct {
	mu         sync.Mutex
	path       string
	ids        publish.IDGenerator
	clock      publish.Clock
	orderer    *publish.Orderer
	logger     *zap.Logger
	listings   []publish.Listing
	byID       map[string]int
	byUnique   map[string]int
	nextSeq    int64
	version    int64
	lastUpdate time.Time
}

var _ publish.ListingStore = (*Store)(nil)

// New opens the snapshot at cfg.Path, creating it when absent. A corrupt snapshot is
// archived next to the original and replaced by an empty one.
func New(
	cfg Config,
	ids publish.IDGenerator,
	clock publish.Clock,
	orderer *publish.Orderer,
	logger *zap.Logger,
) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if orderer == nil {
		orderer = publish.NewOrderer(publish.DefaultOrdering)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	s := &Store{
		path:     cfg.Path,
		ids:      ids,
		clock:    clock,
		orderer:  orderer,
		logger:   logger,
		byID:     make(map[string]int),
		byUnique: make(map[string]int),
		nextSeq:  1,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	doc, err := readDocument(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.reset()
	case err != nil:
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.clock.Now().Format("20060102T150405Z"))
		ioErr := &publish.StorageIOError{Path: s.path, Backup: backup, Err: err}
		if renameErr := os.Rename(s.path, backup); renameErr != nil {
			ioErr.Backup = ""
			ioErr.Err = errors.Join(err, renameErr)
			return ioErr
		}
		s.logger.Warn("snapshot unreadable, starting empty", zap.Error(ioErr))
		return s.reset()
	}

	s.version = doc.Version
	s.lastUpdate = doc.LastUpdate
	repaired := false
	for _, l := range doc.Objects {
		if key := publish.Fingerprint(l.Kvartil, l.Xet, l.Tell); l.UniqueID != key {
			l.UniqueID = key
			repaired = true
		}
		if _, dup := s.byUnique[l.UniqueID]; dup {
			s.logger.Warn("dropping duplicate listing from snapshot",
				zap.String("listing_id", l.ID),
				zap.String("unique_id", l.UniqueID),
			)
			repaired = true
			continue
		}
		if _, taken := s.byID[l.ID]; l.ID == "" || taken {
			id, err := s.ids.NewID()
			if err != nil {
				return fmt.Errorf("assign listing id: %w", err)
			}
			if taken {
				s.logger.Warn("reassigning duplicate listing id",
					zap.String("listing_id", l.ID),
					zap.String("new_id", id),
				)
			}
			l.ID = id
			repaired = true
		}
		if !l.Status.Valid() {
			l.Status = publish.StatusWaiting
			repaired = true
		}
		if l.Seq <= 0 {
			l.Seq = s.nextSeq
			repaired = true
		}
		if l.Seq >= s.nextSeq {
			s.nextSeq = l.Seq + 1
		}
		s.byID[l.ID] = len(s.listings)
		s.byUnique[l.UniqueID] = len(s.listings)
		s.listings = append(s.listings, l)
	}
	if repaired {
		// Persist assigned ids now so they survive a restart without a write.
		if err := s.persistLocked(s.clock.Now()); err != nil {
			return err
		}
	}
	s.logger.Info("snapshot loaded",
		zap.String("path", s.path),
		zap.Int("listings", len(s.listings)),
		zap.Int64("version", s.version),
	)
	return nil
}

func (s *Store) reset() error {
	now := s.clock.Now()
	doc := document{Objects: []publish.Listing{}, LastUpdate: now, Version: s.version + 1}
	if err := writeDocument(s.path, doc); err != nil {
		return err
	}
	s.listings = nil
	s.version = doc.Version
	s.lastUpdate = now
	return nil
}

// Upsert inserts a new listing or merges the input into the listing sharing its fingerprint.
func (s *Store) Upsert(_ context.Context, input publish.ListingInput) (publish.Listing, error) {
	if err := input.Validate(); err != nil {
		return publish.Listing{}, err
	}
	key := input.Fingerprint()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	idx, exists := s.byUnique[key]
	var next publish.Listing
	if exists {
		next = s.listings[idx].Clone()
	} else {
		id, err := s.ids.NewID()
		if err != nil {
			return publish.Listing{}, fmt.Errorf("assign listing id: %w", err)
		}
		idx = -1
		next = publish.Listing{
			ID:        id,
			UniqueID:  key,
			Status:    publish.StatusWaiting,
			CreatedAt: now,
			Seq:       s.nextSeq,
		}
	}
	input.Merge(&next)
	if input.Status != nil {
		if err := publish.CheckTransition(next.Status, *input.Status); err != nil {
			return publish.Listing{}, fmt.Errorf("upsert %s: %w", next.ID, err)
		}
		next.Status = *input.Status
	}
	next.UpdatedAt = now

	if err := s.commit(idx, next, now); err != nil {
		return publish.Listing{}, err
	}
	metrics.ObserveUpsert(!exists)
	return next.Clone(), nil
}

// GetAll returns every listing in display order.
func (s *Store) GetAll(_ context.Context) ([]publish.Listing, error) {
	s.mu.Lock()
	out := make([]publish.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l.Clone())
	}
	s.mu.Unlock()

	s.orderer.Sort(out)
	return out, nil
}

// GetByID fetches one listing.
func (s *Store) GetByID(_ context.Context, id string) (publish.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return publish.Listing{}, publish.ErrNotFound
	}
	return s.listings[idx].Clone(), nil
}

// SetStatus moves a listing along the lifecycle graph.
func (s *Store) SetStatus(
	_ context.Context,
	id string,
	status publish.Status,
	postedAt *time.Time,
	reason string,
) (publish.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return publish.Listing{}, publish.ErrNotFound
	}
	next := s.listings[idx].Clone()
	if err := publish.CheckTransition(next.Status, status); err != nil {
		return publish.Listing{}, fmt.Errorf("set status %s: %w", id, err)
	}
	now := s.clock.Now()
	next.Status = status
	if postedAt != nil {
		ts := postedAt.UTC()
		next.PostedAt = &ts
	}
	next.LastError = reason
	next.UpdatedAt = now

	if err := s.commit(idx, next, now); err != nil {
		return publish.Listing{}, err
	}
	return next.Clone(), nil
}

// ListByStatus returns the listings currently in status, in display order.
func (s *Store) ListByStatus(_ context.Context, status publish.Status) ([]publish.Listing, error) {
	s.mu.Lock()
	var out []publish.Listing
	for _, l := range s.listings {
		if l.Status == status {
			out = append(out, l.Clone())
		}
	}
	s.mu.Unlock()

	s.orderer.Sort(out)
	return out, nil
}

// Version reports the revision counter and timestamp of the last persisted write.
func (s *Store) Version() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.lastUpdate
}

// commit persists the arena with l placed at idx (appended when idx < 0) and swaps it
// in only after the write succeeds. Callers hold s.mu.
func (s *Store) commit(idx int, l publish.Listing, now time.Time) error {
	next := slices.Clone(s.listings)
	if idx < 0 {
		next = append(next, l)
	} else {
		next[idx] = l
	}
	doc := document{Objects: next, LastUpdate: now, Version: s.version + 1}
	if err := writeDocument(s.path, doc); err != nil {
		return err
	}

	s.listings = next
	s.version = doc.Version
	s.lastUpdate = now
	if idx < 0 {
		pos := len(next) - 1
		s.byID[l.ID] = pos
		s.byUnique[l.UniqueID] = pos
		s.nextSeq++
	}
	return nil
}

// persistLocked writes the arena as is. Callers hold s.mu or own the store exclusively.
func (s *Store) persistLocked(now time.Time) error {
	doc := document{Objects: s.listings, LastUpdate: now, Version: s.version + 1}
	if doc.Objects == nil {
		doc.Objects = []publish.Listing{}
	}
	if err := writeDocument(s.path, doc); err != nil {
		return err
	}
	s.version = doc.Version
	s.lastUpdate = now
	return nil
}

func readDocument(path string) (document, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, fmt.Errorf("read snapshot: %w", err)
	}
	var doc document
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

func writeDocument(path string, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := fileutil.WriteAtomic(path, data, 0o600); err != nil {
		return &publish.StorageIOError{Path: path, Err: err}
	}
	return nil
}
