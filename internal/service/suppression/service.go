package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/pkg/logger"
)

// Service answers suppression questions. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed reports whether email should be blocked from sending.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	email = normalize(email)
	if email == "" {
		return false, fmt.Errorf("email is required")
	}
	reasons, err := s.repo.Reasons(ctx, []string{email})
	if err != nil {
		return false, err
	}
	_, ok := reasons[email]
	return ok, nil
}

// Lookup returns the suppression of email, or ErrNotFound.
func (s *Service) Lookup(ctx context.Context, email string) (domain.Suppression, error) {
	return s.repo.Get(ctx, normalize(email))
}

// Filter drops suppressed owners and keeps the order of the rest. Its
// signature matches eligibility.OwnerValidator.
func (s *Service) Filter(ctx context.Context, owners []domain.Owner) ([]domain.Owner, error) {
	if len(owners) == 0 {
		return owners, nil
	}

	emails := make([]string, 0, len(owners))
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		e := normalize(o.Email())
		if e != "" && !seen[e] {
			seen[e] = true
			emails = append(emails, e)
		}
	}

	reasons, err := s.repo.Reasons(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("load suppressions: %w", err)
	}

	out := make([]domain.Owner, 0, len(owners))
	for _, o := range owners {
		if reason, ok := reasons[normalize(o.Email())]; ok {
			logger.Debug("suppression: skipping owner", "owner", o.Ref().String(), "email", o.Email(), "reason", reason)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
