// Package memory provides the in-process posting queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// ListingLookup resolves a listing so posted and in-flight listings can be refused at
// enqueue time.
type ListingLookup interface {
	GetByID(ctx context.Context, id string) (publish.Listing, error)
}

// Queue is an ordered single-consumer FIFO of listing ids. A listing id appears at
// most once; entries are never reordered.
type Queue struct {
	lookup  ListingLookup
	clock   publish.Clock
	mu      sync.Mutex
	entries []publish.QueueEntry
	queued  map[string]struct{}
	notify  chan struct{}
	done    chan struct{}
	closed  bool
}

var _ publish.Queue = (*Queue)(nil)

// NewQueue constructs an empty queue. lookup may be nil, which disables the posted check.
func NewQueue(lookup ListingLookup, clock publish.Clock) *Queue {
	return &Queue{
		lookup: lookup,
		clock:  clock,
		queued: make(map[string]struct{}),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends listingID and returns its 1-based position. An id that is already
// queued keeps its place and its current position is returned.
func (q *Queue) Enqueue(ctx context.Context, listingID string) (int, error) {
	if listingID == "" {
		return 0, errors.New("listing id is required")
	}
	if q.lookup != nil {
		listing, err := q.lookup.GetByID(ctx, listingID)
		if err != nil {
			return 0, fmt.Errorf("enqueue %s: %w", listingID, err)
		}
		switch listing.Status {
		case publish.StatusPosted:
			return 0, publish.ErrAlreadyPosted
		case publish.StatusProcessing:
			return 0, publish.ErrInProgress
		}
	}
	return q.push(publish.QueueEntry{ListingID: listingID, EnqueuedAt: q.clock.Now()})
}

// Requeue appends entry at the tail, keeping its attempt counter. When the id was
// re-enqueued meanwhile, that entry keeps its place and inherits the higher counter.
func (q *Queue) Requeue(_ context.Context, entry publish.QueueEntry) (int, error) {
	if entry.ListingID == "" {
		return 0, errors.New("listing id is required")
	}
	entry.EnqueuedAt = q.clock.Now()
	return q.push(entry)
}

func (q *Queue) push(entry publish.QueueEntry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, publish.ErrQueueClosed
	}
	if _, ok := q.queued[entry.ListingID]; ok {
		pos := q.positionLocked(entry.ListingID)
		if existing := &q.entries[pos-1]; entry.Attempts > existing.Attempts {
			existing.Attempts = entry.Attempts
		}
		return pos, nil
	}
	q.entries = append(q.entries, entry)
	q.queued[entry.ListingID] = struct{}{}
	metrics.SetQueueLength(len(q.entries))
	q.signal()
	return len(q.entries), nil
}

// DequeueNext pops the head, blocking until an entry arrives, the queue closes or ctx ends.
func (q *Queue) DequeueNext(ctx context.Context) (publish.QueueEntry, error) {
	for {
		entry, ok, err := q.TryDequeue()
		if err != nil || ok {
			return entry, err
		}
		select {
		case <-ctx.Done():
			return publish.QueueEntry{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
		case <-q.notify:
		}
	}
}

// TryDequeue pops the head without blocking. ok is false when the queue is empty.
func (q *Queue) TryDequeue() (publish.QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return publish.QueueEntry{}, false, publish.ErrQueueClosed
	}
	if len(q.entries) == 0 {
		return publish.QueueEntry{}, false, nil
	}
	entry := q.entries[0]
	q.entries[0] = publish.QueueEntry{}
	q.entries = q.entries[1:]
	delete(q.queued, entry.ListingID)
	metrics.SetQueueLength(len(q.entries))
	if len(q.entries) > 0 {
		q.signal()
	}
	return entry, true, nil
}

// Remove drops listingID from the queue. It reports whether the id was queued.
func (q *Queue) Remove(listingID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[listingID]; !ok {
		return false
	}
	for i, e := range q.entries {
		if e.ListingID == listingID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.queued, listingID)
	metrics.SetQueueLength(len(q.entries))
	return true
}

// Position returns the 1-based position of listingID, or 0 when it is not queued.
func (q *Queue) Position(listingID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(listingID)
}

// Status returns a point-in-time snapshot of the queued ids.
func (q *Queue) Status() publish.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.entries))
	for _, e := range q.entries {
		ids = append(ids, e.ListingID)
	}
	return publish.QueueSnapshot{IDs: ids, Length: len(ids)}
}

// Close wakes blocked consumers with ErrQueueClosed. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) positionLocked(listingID string) int {
	for i, e := range q.entries {
		if e.ListingID == listingID {
			return i + 1
		}
	}
	return 0
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
