// Package worker implements the single publish loop that drains the posting queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// State is the worker's position in the publish state machine.
type State string

// Worker states.
const (
	StateIdle             State = "idle"
	StateAcquiringSession State = "acquiring_session"
	StateSubmitting       State = "submitting"
	StateSuccess          State = "success"
	StateRetryableError   State = "retryable_error"
	StateFatalError       State = "fatal_error"
	StateBlocked          State = "blocked"
)

const (
	reasonInterrupted = "interrupted"
	defaultTopic      = "listing.outcome"
)

// Snapshot is the worker state reported by the API.
type Snapshot struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	ListingID string    `json:"listingId,omitempty"`
	Since     time.Time `json:"since"`
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts is the number of submissions tried before a listing is marked error.
	MaxAttempts   int           `mapstructure:"max_attempts"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	// RecheckInterval re-validates the session while blocked; zero waits for the file watcher only.
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
	Topic           string        `mapstructure:"topic"`
}

// Worker consumes queue entries one at a time and publishes them to the marketplace.
// It is the only writer of the processing, posted and error statuses.
type Worker struct {
	store     publish.ListingStore
	queue     publish.Queue
	browser   publish.Browser
	vault     publish.SessionVault
	images    publish.ImageSource
	publisher publish.Publisher
	pacer     publish.Pacer
	clock     publish.Clock
	changes   <-chan struct{}
	cfg       Config
	logger    *zap.Logger

	mu    sync.RWMutex
	state Snapshot
}

// New constructs a Worker. images, publisher, pacer and changes may be nil.
func New(
	store publish.ListingStore,
	queue publish.Queue,
	browser publish.Browser,
	vault publish.SessionVault,
	images publish.ImageSource,
	publisher publish.Publisher,
	pacer publish.Pacer,
	clock publish.Clock,
	changes <-chan struct{},
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 3 * time.Minute
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		store:     store,
		queue:     queue,
		browser:   browser,
		vault:     vault,
		images:    images,
		publisher: publisher,
		pacer:     pacer,
		clock:     clock,
		changes:   changes,
		cfg:       cfg,
		logger:    logger,
	}
	w.setState(StateIdle, "", "")
	return w
}

// State returns the current worker state.
func (w *Worker) State() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State, listingID, reason string) {
	w.mu.Lock()
	w.state = Snapshot{State: state, Reason: reason, ListingID: listingID, Since: w.clock.Now()}
	w.mu.Unlock()
	metrics.SetWorkerState(string(state))
	w.logger.Debug("worker state", zap.String("state", string(state)), zap.String("listing_id", listingID))
}

// Recover marks listings left processing by a previous run as error. A crash mid-submit
// may have created the remote ad, so they are never retried automatically.
func (w *Worker) Recover(ctx context.Context) error {
	stuck, err := w.store.ListByStatus(ctx, publish.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing listings: %w", err)
	}
	for _, l := range stuck {
		if _, err := w.store.SetStatus(ctx, l.ID, publish.StatusError, nil, reasonInterrupted); err != nil {
			w.logger.Error("recover listing failed", zap.String("listing_id", l.ID), zap.Error(err))
			continue
		}
		w.logger.Warn("listing interrupted by restart", zap.String("listing_id", l.ID))
		w.emit(ctx, publish.Outcome{ListingID: l.ID, Status: publish.StatusError, Error: reasonInterrupted})
	}
	return nil
}

// Run blocks, consuming queue entries until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	if err := w.Recover(ctx); err != nil {
		w.logger.Error("startup recovery failed", zap.Error(err))
	}
	for {
		w.setState(StateIdle, "", "")
		entry, err := w.queue.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, publish.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued listing", zap.String("listing_id", entry.ListingID), zap.Int("attempt", entry.Attempts+1))
		if blocked := w.process(ctx, entry); blocked {
			if err := w.waitForSession(ctx); err != nil {
				return
			}
		}
	}
}

// process handles one entry. It reports whether the session turned out to be invalid.
func (w *Worker) process(ctx context.Context, entry publish.QueueEntry) bool {
	id := entry.ListingID
	listing, err := w.store.GetByID(ctx, id)
	if err != nil {
		w.logger.Error("load queued listing failed", zap.String("listing_id", id), zap.Error(err))
		return false
	}
	if listing.Status == publish.StatusPosted {
		w.logger.Info("skipping posted listing", zap.String("listing_id", id))
		return false
	}
	if listing, err = w.store.SetStatus(ctx, id, publish.StatusProcessing, nil, ""); err != nil {
		w.logger.Error("mark processing failed", zap.String("listing_id", id), zap.Error(err))
		return false
	}

	w.setState(StateAcquiringSession, id, "")
	sess, err := w.browser.Open(ctx)
	if err != nil {
		w.retry(ctx, entry, fmt.Sprintf("open browser: %v", err), 0)
		return false
	}
	defer func() {
		if err := sess.Close(); err != nil {
			w.logger.Warn("close browser session", zap.String("listing_id", id), zap.Error(err))
		}
	}()

	if !w.acquire(ctx, sess) {
		if ctx.Err() != nil {
			w.release(ctx, id)
			return false
		}
		w.sessionInvalid(ctx, entry)
		return true
	}

	w.setState(StateSubmitting, id, "")
	result, elapsed, err := w.submit(ctx, sess, listing)
	switch {
	case err == nil:
		w.succeed(ctx, entry, sess, result, elapsed)
	case ctx.Err() != nil:
		// Shutdown. A submit already in flight leaves the listing processing for Recover.
		if !errors.Is(err, errSubmitStarted) {
			w.release(ctx, id)
		}
	case errors.Is(err, publish.ErrSessionInvalid):
		w.sessionInvalid(ctx, entry)
		return true
	case publish.IsRetryable(err):
		w.retry(ctx, entry, err.Error(), elapsed)
	default:
		w.fail(ctx, entry, err.Error(), elapsed)
	}
	return false
}

func (w *Worker) acquire(ctx context.Context, sess publish.BrowserSession) bool {
	loaded, err := w.vault.Load(ctx, sess)
	if err != nil {
		w.logger.Warn("restore session failed", zap.Error(err))
		return false
	}
	if !loaded {
		w.logger.Warn("no stored session")
		return false
	}
	return w.vault.Validate(ctx, sess)
}

var errSubmitStarted = errors.New("submission started")

func (w *Worker) submit(
	ctx context.Context,
	sess publish.BrowserSession,
	listing publish.Listing,
) (publish.SubmitResult, time.Duration, error) {
	if w.pacer != nil {
		if err := w.pacer.Wait(ctx); err != nil {
			return publish.SubmitResult{}, 0, err
		}
	}
	var paths []string
	if w.images != nil && len(listing.Images) > 0 {
		p, cleanup, err := w.images.Materialize(ctx, listing.Images)
		if err != nil {
			return publish.SubmitResult{}, 0, &publish.SubmitError{Reason: "images unavailable", Retryable: true, Err: err}
		}
		defer cleanup()
		paths = p
	}

	submitCtx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	defer cancel()
	start := time.Now()
	result, err := sess.Submit(submitCtx, listing, paths)
	elapsed := time.Since(start)
	if err != nil && ctx.Err() != nil {
		return result, elapsed, fmt.Errorf("%w: %w", errSubmitStarted, err)
	}
	return result, elapsed, err
}

func (w *Worker) succeed(
	ctx context.Context,
	entry publish.QueueEntry,
	jar publish.CookieJar,
	result publish.SubmitResult,
	elapsed time.Duration,
) {
	id := entry.ListingID
	w.setState(StateSuccess, id, "")
	now := w.clock.Now()
	if _, err := w.store.SetStatus(ctx, id, publish.StatusPosted, &now, ""); err != nil {
		w.logger.Error("mark posted failed", zap.String("listing_id", id), zap.Error(err))
	}
	w.queue.Remove(id)
	if err := w.vault.Save(ctx, jar); err != nil {
		w.logger.Warn("save refreshed session failed", zap.Error(err))
	}
	metrics.ObserveSubmission("posted", elapsed)
	w.logger.Info("listing posted",
		zap.String("listing_id", id),
		zap.Int("attempt", entry.Attempts+1),
		zap.String("remote_id", result.RemoteID),
	)
	w.emit(ctx, publish.Outcome{
		ListingID: id,
		Status:    publish.StatusPosted,
		Attempts:  entry.Attempts + 1,
		RemoteID:  result.RemoteID,
	})
}

func (w *Worker) retry(ctx context.Context, entry publish.QueueEntry, reason string, elapsed time.Duration) {
	entry.Attempts++
	if entry.Attempts >= w.cfg.MaxAttempts {
		w.fail(ctx, entry, fmt.Sprintf("gave up after %d attempts: %s", entry.Attempts, reason), elapsed)
		return
	}
	id := entry.ListingID
	w.setState(StateRetryableError, id, reason)
	metrics.ObserveSubmission("retry", elapsed)
	w.logger.Warn("submission failed, requeueing",
		zap.String("listing_id", id),
		zap.Int("attempt", entry.Attempts),
		zap.String("reason", reason),
	)
	if _, err := w.store.SetStatus(ctx, id, publish.StatusWaiting, nil, reason); err != nil {
		w.logger.Error("mark waiting failed", zap.String("listing_id", id), zap.Error(err))
		return
	}
	if _, err := w.queue.Requeue(ctx, entry); err != nil {
		w.logger.Error("requeue failed", zap.String("listing_id", id), zap.Error(err))
	}
}

// fail is the FatalError terminal: the listing is marked error and leaves the queue.
func (w *Worker) fail(ctx context.Context, entry publish.QueueEntry, reason string, elapsed time.Duration) {
	id := entry.ListingID
	attempts := entry.Attempts
	if attempts == 0 {
		attempts = 1
	}
	w.setState(StateFatalError, id, reason)
	metrics.ObserveSubmission("error", elapsed)
	w.logger.Error("listing failed", zap.String("listing_id", id), zap.Int("attempt", attempts), zap.String("reason", reason))
	if _, err := w.store.SetStatus(ctx, id, publish.StatusError, nil, reason); err != nil {
		w.logger.Error("mark error failed", zap.String("listing_id", id), zap.Error(err))
	}
	w.queue.Remove(id)
	w.emit(ctx, publish.Outcome{ListingID: id, Status: publish.StatusError, Attempts: attempts, Error: reason})
}

func (w *Worker) sessionInvalid(ctx context.Context, entry publish.QueueEntry) {
	id := entry.ListingID
	reason := publish.ErrSessionInvalid.Error()
	metrics.ObserveSubmission("session_invalid", 0)
	w.logger.Error("session invalid, manual re-authentication required", zap.String("listing_id", id))
	if _, err := w.store.SetStatus(ctx, id, publish.StatusError, nil, reason); err != nil {
		w.logger.Error("mark error failed", zap.String("listing_id", id), zap.Error(err))
	}
	w.queue.Remove(id)
	w.emit(ctx, publish.Outcome{ListingID: id, Status: publish.StatusError, Attempts: entry.Attempts + 1, Error: reason})
}

// release returns a listing that never reached the marketplace to waiting.
func (w *Worker) release(ctx context.Context, id string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := w.store.SetStatus(bg, id, publish.StatusWaiting, nil, ""); err != nil {
		w.logger.Warn("release listing failed", zap.String("listing_id", id), zap.Error(err))
	}
}

// waitForSession parks the worker until the session file is rewritten or a periodic
// re-check validates the stored session.
func (w *Worker) waitForSession(ctx context.Context) error {
	// Signals raised before blocking (such as our own saves) do not count.
	for drained := false; !drained; {
		select {
		case <-w.changes:
		default:
			drained = true
		}
	}
	w.setState(StateBlocked, "", publish.ErrSessionInvalid.Error())
	for {
		var recheck <-chan time.Time
		if w.cfg.RecheckInterval > 0 {
			recheck = w.clock.After(w.cfg.RecheckInterval)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for session: %w", ctx.Err())
		case _, ok := <-w.changes:
			if !ok {
				w.changes = nil
				continue
			}
			w.logger.Info("session file rewritten, resuming")
			return nil
		case <-recheck:
			if w.checkSession(ctx) {
				w.logger.Info("stored session valid again, resuming")
				return nil
			}
		}
	}
}

func (w *Worker) checkSession(ctx context.Context) bool {
	sess, err := w.browser.Open(ctx)
	if err != nil {
		w.logger.Warn("session re-check could not open browser", zap.Error(err))
		return false
	}
	defer func() { _ = sess.Close() }()
	return w.acquire(ctx, sess)
}

func (w *Worker) emit(ctx context.Context, outcome publish.Outcome) {
	if w.publisher == nil {
		return
	}
	outcome.Timestamp = w.clock.Now()
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, outcome); err != nil {
		w.logger.Warn("publish outcome failed", zap.String("listing_id", outcome.ListingID), zap.Error(err))
	}
}
