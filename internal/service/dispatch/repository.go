package dispatch

import (
	"context"

	"github.com/socivy/rebel/internal/domain"
)

// Store persists the records of one successful send.
type Store interface {
	// SaveBatch gets or creates the label with slug labelSlug (name = slug),
	// sets LabelID on every record and inserts them, all in one
	// transaction. It returns the records as stored.
	SaveBatch(ctx context.Context, labelSlug string, records []domain.DeliveryRecord) ([]domain.DeliveryRecord, error)
}
