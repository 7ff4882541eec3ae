package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/socivy/rebel/internal/domain"
)

// OwnerValidator narrows the owners that passed the policy check. It must
// not add owners and should keep their order.
type OwnerValidator func(ctx context.Context, owners []domain.Owner) ([]domain.Owner, error)

// Engine filters owners for one template: one policy, one label.
type Engine struct {
	history  HistoryRepository
	policy   domain.Policy
	label    string
	validate OwnerValidator
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithOwnerValidator installs an extra business-rule filter run after the
// policy check.
func WithOwnerValidator(v OwnerValidator) Option {
	return func(e *Engine) { e.validate = v }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates policy and returns an engine for label. An invalid
// policy fails here, before any history is read.
func NewEngine(history HistoryRepository, policy domain.Policy, label string, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	e := &Engine{
		history: history,
		policy:  policy,
		label:   label,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the policy the engine enforces.
func (e *Engine) Policy() domain.Policy { return e.policy }

// Filter returns the owners that may receive the mail now, in input order.
func (e *Engine) Filter(ctx context.Context, owners []domain.Owner) ([]domain.Owner, error) {
	available, err := e.availableByPolicy(ctx, owners)
	if err != nil {
		return nil, err
	}
	if e.validate == nil || len(available) == 0 {
		return available, nil
	}
	validated, err := e.validate(ctx, available)
	if err != nil {
		return nil, fmt.Errorf("validate available owners: %w", err)
	}
	return validated, nil
}

func (e *Engine) availableByPolicy(ctx context.Context, owners []domain.Owner) ([]domain.Owner, error) {
	if e.policy.Unrestricted() || len(owners) == 0 {
		return owners, nil
	}

	var since *time.Time
	if window, unbounded := e.policy.Window(); !unbounded {
		cutoff := e.now().Add(-window)
		since = &cutoff
	}

	refs := make([]domain.OwnerRef, len(owners))
	for i, o := range owners {
		refs[i] = o.Ref()
	}

	sent, err := e.history.SentOwners(ctx, e.label, refs, since)
	if err != nil {
		return nil, fmt.Errorf("load send history for %s: %w", e.label, err)
	}

	available := make([]domain.Owner, 0, len(owners))
	for _, o := range owners {
		if !sent[o.Ref()] {
			available = append(available, o)
		}
	}
	return available, nil
}
