package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository on top of the delivery
// flags in rebel_mails.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// Reasons reports complained before unsubscribed when an address has both.
func (r *SuppressionRepo) Reasons(ctx context.Context, emails []string) (map[string]domain.SuppressionReason, error) {
	out := make(map[string]domain.SuppressionReason)
	if len(emails) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT LOWER(email_to), BOOL_OR(has_complained)
		FROM rebel_mails
		WHERE LOWER(email_to) = ANY($1) AND (has_complained OR has_unsubscribed)
		GROUP BY LOWER(email_to)
	`, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("query suppressions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			email      string
			complained bool
		)
		if err := rows.Scan(&email, &complained); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out[email] = domain.ReasonUnsubscribe
		if complained {
			out[email] = domain.ReasonComplaint
		}
	}
	return out, rows.Err()
}

func (r *SuppressionRepo) Get(ctx context.Context, email string) (domain.Suppression, error) {
	var (
		s          domain.Suppression
		complained bool
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, LOWER(email_to), has_complained, created_at
		FROM rebel_mails
		WHERE LOWER(email_to) = $1 AND (has_complained OR has_unsubscribed)
		ORDER BY created_at DESC
		LIMIT 1
	`, email).Scan(&s.MailID, &s.Email, &complained, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, suppression.ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("get suppression: %w", err)
	}
	s.Reason = domain.ReasonUnsubscribe
	if complained {
		s.Reason = domain.ReasonComplaint
	}
	return s, nil
}
