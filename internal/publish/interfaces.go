package publish

import (
	"context"
	"fmt"
	"time"
)

// ListingStore persists listings and their publication status.
type ListingStore interface {
	Upsert(ctx context.Context, input ListingInput) (Listing, error)
	GetAll(ctx context.Context) ([]Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	SetStatus(ctx context.Context, id string, status Status, postedAt *time.Time, reason string) (Listing, error)
	ListByStatus(ctx context.Context, status Status) ([]Listing, error)
}

// Queue is the ordered single-consumer FIFO of listings awaiting publication.
type Queue interface {
	Enqueue(ctx context.Context, listingID string) (int, error)
	Requeue(ctx context.Context, entry QueueEntry) (int, error)
	DequeueNext(ctx context.Context) (QueueEntry, error)
	Remove(listingID string) bool
	Status() QueueSnapshot
}

// CookieJar exposes the cookies of one browser context.
type CookieJar interface {
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// Navigator loads a URL and reports where the browser ended up after redirects.
type Navigator interface {
	Navigate(ctx context.Context, url string) (string, error)
}

// BrowserSession is one automated browser context borrowed for a single listing.
type BrowserSession interface {
	CookieJar
	Navigator
	Submit(ctx context.Context, listing Listing, imagePaths []string) (SubmitResult, error)
	Close() error
}

// Browser opens isolated browser sessions against the marketplace.
type Browser interface {
	Open(ctx context.Context) (BrowserSession, error)
}

// SessionVault persists and validates the marketplace authentication state.
type SessionVault interface {
	Save(ctx context.Context, jar CookieJar) error
	Load(ctx context.Context, jar CookieJar) (bool, error)
	Validate(ctx context.Context, nav Navigator) bool
	IsExpired() bool
	Exists() bool
	Delete() error
}

// ImageSource turns listing image keys into local file paths a browser can upload.
type ImageSource interface {
	Materialize(ctx context.Context, keys []string) ([]string, func(), error)
}

// Publisher pushes outcome events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pacer spaces out marketplace submissions.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time and timers (useful for testing).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces listing IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Sleep waits for d on clk, returning early when ctx ends.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-clk.After(d):
		return nil
	}
}
