package suppression

import (
	"context"

	"github.com/socivy/rebel/internal/domain"
)

// Repository is the data access contract for suppressions.
type Repository interface {
	// Reasons returns the suppression reason for each of emails that is
	// suppressed. Emails are lowercase; absent keys are not suppressed.
	Reasons(ctx context.Context, emails []string) (map[string]domain.SuppressionReason, error)

	// Get returns the most recent suppression of email, or ErrNotFound.
	Get(ctx context.Context, email string) (domain.Suppression, error)
}
