package eligibility

import (
	"context"
	"time"

	"github.com/socivy/rebel/internal/domain"
)

// HistoryRepository answers "who already got this label". Implementations
// must be safe for concurrent use.
type HistoryRepository interface {
	// SentOwners reports which of refs have at least one delivery record
	// under the label slug created at or after since. A nil since means any
	// time. Owners without records may be absent from the map.
	SentOwners(ctx context.Context, label string, refs []domain.OwnerRef, since *time.Time) (map[domain.OwnerRef]bool, error)
}
