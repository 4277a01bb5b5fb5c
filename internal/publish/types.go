// Package publish defines the core types shared by the listing store, session vault,
// posting queue and publish worker.
package publish

import (
	"fmt"
	"time"
)

// Status represents the publication lifecycle state of a listing.
type Status string

// Listing status values persisted in the listing store.
const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusPosted     Status = "posted"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusPosted, StatusError:
		return true
	default:
		return false
	}
}

// Listing is a real-estate record intended for publication on the marketplace.
type Listing struct {
	ID        string            `json:"id"`
	UniqueID  string            `json:"uniqueId"`
	Kvartil   string            `json:"kvartil"`
	Xet       string            `json:"xet"`
	Tell      string            `json:"tell"`
	Narx      string            `json:"narx"`
	M2        string            `json:"m2,omitempty"`
	Opisaniya string            `json:"opisaniya,omitempty"`
	Sost      string            `json:"sost,omitempty"`
	Rieltor   string            `json:"rieltor,omitempty"`
	Images    []string          `json:"images,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Status    Status            `json:"elonStatus"`
	PostedAt  *time.Time        `json:"elonDate"`
	LastError string            `json:"lastError,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	// Seq is the insertion sequence; it orders listings outside every known cluster.
	Seq int64 `json:"seq"`
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (l Listing) Clone() Listing {
	cp := l
	if l.Images != nil {
		cp.Images = append([]string(nil), l.Images...)
	}
	if l.Extra != nil {
		cp.Extra = make(map[string]string, len(l.Extra))
		for k, v := range l.Extra {
			cp.Extra[k] = v
		}
	}
	if l.PostedAt != nil {
		ts := *l.PostedAt
		cp.PostedAt = &ts
	}
	return cp
}

// ListingInput carries intake fields for an upsert. Empty fields leave the stored
// value untouched when the record already exists.
type ListingInput struct {
	Kvartil   string            `json:"kvartil"`
	Xet       string            `json:"xet"`
	Tell      string            `json:"tell"`
	Narx      string            `json:"narx"`
	M2        string            `json:"m2,omitempty"`
	Opisaniya string            `json:"opisaniya,omitempty"`
	Sost      string            `json:"sost,omitempty"`
	Rieltor   string            `json:"rieltor,omitempty"`
	Images    []string          `json:"images,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	// Status, when set, requests an explicit transition as part of the upsert.
	Status *Status `json:"elonStatus,omitempty"`
}

// Merge copies the non-empty input fields onto l. Identity, timestamps and status are
// left to the caller.
func (in ListingInput) Merge(l *Listing) {
	setIfNotEmpty(&l.Kvartil, in.Kvartil)
	setIfNotEmpty(&l.Xet, in.Xet)
	setIfNotEmpty(&l.Tell, in.Tell)
	setIfNotEmpty(&l.Narx, in.Narx)
	setIfNotEmpty(&l.M2, in.M2)
	setIfNotEmpty(&l.Opisaniya, in.Opisaniya)
	setIfNotEmpty(&l.Sost, in.Sost)
	setIfNotEmpty(&l.Rieltor, in.Rieltor)
	if len(in.Images) > 0 {
		l.Images = append([]string(nil), in.Images...)
	}
	if len(in.Extra) > 0 {
		if l.Extra == nil {
			l.Extra = make(map[string]string, len(in.Extra))
		}
		for k, v := range in.Extra {
			l.Extra[k] = v
		}
	}
}

// Validate checks the fields that make up the fingerprint and any requested status.
func (in ListingInput) Validate() error {
	if NormalizeField(in.Kvartil) == "" || NormalizeField(in.Xet) == "" || NormalizeField(in.Tell) == "" {
		return ErrInvalidListing
	}
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("unknown status %q: %w", *in.Status, ErrInvalidListing)
	}
	return nil
}

// Fingerprint returns the uniqueId the input collapses into.
func (in ListingInput) Fingerprint() string {
	return Fingerprint(in.Kvartil, in.Xet, in.Tell)
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Cookie is one record of the persisted browser cookie jar.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Expires  *float64 `json:"expires,omitempty"`
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	Secure   bool     `json:"secure,omitempty"`
	SameSite string   `json:"sameSite,omitempty"`
}

// ExpiresAt converts the epoch-seconds expiry to a time. Session cookies (no expiry or a
// non-positive value) report ok=false.
func (c Cookie) ExpiresAt() (time.Time, bool) {
	if c.Expires == nil || *c.Expires <= 0 {
		return time.Time{}, false
	}
	sec := int64(*c.Expires)
	nsec := int64((*c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}

// QueueEntry is a pending publication request.
type QueueEntry struct {
	ListingID  string    `json:"listingId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
}

// QueueSnapshot is a point-in-time view of the posting queue.
type QueueSnapshot struct {
	IDs    []string `json:"queue"`
	Length int      `json:"queueLength"`
}

// SubmitResult describes what the marketplace showed after a submission.
type SubmitResult struct {
	FinalURL string
	// RemoteID is the marketplace identifier of the created ad, when it could be read.
	RemoteID string
}

// Outcome is the payload published after the worker finishes a listing.
type Outcome struct {
	ListingID string    `json:"listing_id"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
