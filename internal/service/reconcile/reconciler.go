package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
	"github.com/socivy/rebel/internal/pkg/distlock"
	"github.com/socivy/rebel/internal/pkg/logger"
)

const (
	defaultLockWait     = 5 * time.Second
	defaultLockInterval = 100 * time.Millisecond
)

// Reconciler applies provider events to delivery records.
type Reconciler struct {
	store   Store
	fetcher ContentFetcher
	archive ContentArchive

	locks        distlock.Factory
	lockWait     time.Duration
	lockInterval time.Duration

	now func() time.Time
	log *logger.Entry
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithArchive copies newly stored content to archive.
func WithArchive(archive ContentArchive) Option {
	return func(r *Reconciler) { r.archive = archive }
}

// WithLocks serializes ingests per record with locks from factory, waiting
// up to wait for a busy record before giving up with ErrRecordBusy.
func WithLocks(factory distlock.Factory, wait time.Duration) Option {
	return func(r *Reconciler) {
		r.locks = factory
		if wait > 0 {
			r.lockWait = wait
		}
	}
}

// WithClock replaces time.Now for event and content timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(store Store, fetcher ContentFetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        store,
		fetcher:      fetcher,
		lockWait:     defaultLockWait,
		lockInterval: defaultLockInterval,
		now:          time.Now,
		log:          logger.With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest applies one event. It is safe to call concurrently and in any
// order; replaying an event appends a duplicate history row but never
// changes flags or content.
func (r *Reconciler) Ingest(ctx context.Context, p Payload) error {
	rec, err := r.store.FindRecord(ctx, p.MessageID, p.Recipient)
	if err != nil {
		return err
	}

	if r.locks != nil {
		lock := r.locks("mail:" + rec.ID)
		if err := distlock.AcquireWithin(ctx, lock, r.lockWait, r.lockInterval); err != nil {
			if errors.Is(err, distlock.ErrNotAcquired) {
				return fmt.Errorf("%w: %s", ErrRecordBusy, rec.ID)
			}
			return fmt.Errorf("lock record %s: %w", rec.ID, err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				r.log.Warn("release record lock", "mail_id", rec.ID, "error", err)
			}
		}()
	}

	if p.StorageURL != "" {
		if err := r.attachContent(ctx, rec, p.StorageURL); err != nil {
			return err
		}
	}

	ev := domain.Event{
		MailID:    rec.ID,
		Kind:      p.Kind,
		CreatedAt: r.now(),
	}
	if p.Kind == domain.EventClicked {
		ev.ExtraData = map[string]any{"url": p.URL}
	}
	if err := r.store.ApplyEvent(ctx, ev); err != nil {
		return fmt.Errorf("apply %s event to %s: %w", p.Kind, rec.ID, err)
	}

	r.log.Debug("event applied", "mail_id", rec.ID, "event", string(p.Kind), "recipient", p.Recipient)
	return nil
}

func (r *Reconciler) attachContent(ctx context.Context, rec domain.DeliveryRecord, storageURL string) error {
	has, err := r.store.HasContent(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("check content of %s: %w", rec.ID, err)
	}
	if has {
		return nil
	}

	msg, err := r.fetcher.FetchStored(ctx, rec.Profile, storageURL)
	if errors.Is(err, mailgun.ErrUntrustedStorageURL) {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err != nil {
		return fmt.Errorf("fetch stored message for %s: %w", rec.ID, err)
	}

	content := domain.DeliveryContent{
		MailID:    rec.ID,
		Subject:   msg.Subject,
		BodyText:  msg.StrippedText,
		BodyHTML:  msg.StrippedHTML,
		BodyPlain: msg.BodyPlain,
		CreatedAt: r.now(),
	}
	created, err := r.store.AttachContent(ctx, rec.ID, storageURL, content)
	if err != nil {
		return fmt.Errorf("attach content to %s: %w", rec.ID, err)
	}
	if !created {
		return nil
	}
	r.log.Info("content stored", "mail_id", rec.ID)

	if r.archive != nil {
		if err := r.archive.Put(ctx, content); err != nil {
			r.log.Error("archive content", "mail_id", rec.ID, "error", err)
		}
	}
	return nil
}

// Content returns the stored content of a delivery record.
func (r *Reconciler) Content(ctx context.Context, mailID string) (domain.DeliveryContent, error) {
	return r.store.GetContent(ctx, mailID)
}

// ReplayStats counts what Replay did with the listed events.
type ReplayStats struct {
	Applied int
	Missing int
	Skipped int
}

// Replay pulls the provider's events for messageID and ingests them, for
// recovering webhooks that never arrived. Events for unknown records and
// events that do not parse are counted and skipped.
func (r *Reconciler) Replay(ctx context.Context, lister EventLister, messageID string) (ReplayStats, error) {
	var stats ReplayStats
	items, err := lister.ListEvents(ctx, mailgun.EventQuery{MessageID: messageID})
	if err != nil {
		return stats, err
	}

	for _, item := range items {
		p, err := ParseEventData(item)
		if err != nil {
			stats.Skipped++
			continue
		}
		switch err := r.Ingest(ctx, p); {
		case err == nil:
			stats.Applied++
		case errors.Is(err, ErrRecordNotFound):
			stats.Missing++
		case errors.Is(err, ErrMalformedPayload):
			stats.Skipped++
		default:
			return stats, err
		}
	}

	r.log.Info("replay finished", "message_id", messageID,
		"applied", stats.Applied, "missing", stats.Missing, "skipped", stats.Skipped)
	return stats, nil
}
