package reconcile

import (
	"context"
	"encoding/json"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
)

// Store is the delivery data the reconciler reads and writes.
// Implementations must be safe for concurrent use.
type Store interface {
	// FindRecord returns the record sent to recipient under messageID, or
	// ErrRecordNotFound.
	FindRecord(ctx context.Context, messageID, recipient string) (domain.DeliveryRecord, error)

	// HasContent reports whether content was already stored for mailID.
	HasContent(ctx context.Context, mailID string) (bool, error)

	// AttachContent sets the record's storage URL and has_stored flag and
	// inserts content unless the record already has some. created is false
	// when content existed.
	AttachContent(ctx context.Context, mailID, storageURL string, content domain.DeliveryContent) (created bool, err error)

	// ApplyEvent appends ev and raises its flag on the record in one
	// transaction.
	ApplyEvent(ctx context.Context, ev domain.Event) error

	// GetContent returns the stored content of mailID. It returns
	// ErrRecordNotFound or ErrContentNotFound when either is missing.
	GetContent(ctx context.Context, mailID string) (domain.DeliveryContent, error)
}

// ContentFetcher downloads stored messages. *mailgun.Registry implements it.
type ContentFetcher interface {
	FetchStored(ctx context.Context, profile, storageURL string) (mailgun.StoredMessage, error)
}

// ContentArchive keeps a copy of fetched content outside the database.
type ContentArchive interface {
	Put(ctx context.Context, content domain.DeliveryContent) error
}

// EventLister lists provider events. *mailgun.Client implements it.
type EventLister interface {
	ListEvents(ctx context.Context, q mailgun.EventQuery) ([]json.RawMessage, error)
}
