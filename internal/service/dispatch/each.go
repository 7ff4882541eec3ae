package dispatch

import (
	"context"

	"github.com/socivy/rebel/internal/domain"
)

// SendEach sends one message per eligible owner, rendered with that owner's
// variables. The outcomes line up with owners; owners filtered out get a
// Skipped outcome.
//
// A returned error stops the loop. The outcomes gathered so far are
// returned with it.
func (p *Pipeline) SendEach(ctx context.Context, owners []domain.Owner, opts SendOptions) ([]Outcome, error) {
	outcomes := make([]Outcome, len(owners))
	for i := range outcomes {
		outcomes[i].Status = StatusSkipped
	}

	recipients, ok, err := p.eligible(ctx, owners, opts.Force)
	if err != nil {
		return outcomes, err
	}
	if !ok {
		p.log.Info("no eligible owners, skipping", "owners", len(owners))
		return outcomes, nil
	}

	if p.opts.beforeSend != nil {
		if err := p.opts.beforeSend(ctx, recipients); err != nil {
			return outcomes, p.stageErr(StageHooks, err)
		}
	}

	eligible := make(map[domain.OwnerRef]bool, len(recipients))
	for _, o := range recipients {
		eligible[o.Ref()] = true
	}

	variables := opts.Variables
	if p.tpl.BatchMode && variables == nil {
		variables = placeholderVariables()
	}

	for i, owner := range owners {
		if !opts.Force && !eligible[owner.Ref()] {
			continue
		}

		content, err := p.render(opts.TemplateVars, p.ownerVars(owner))
		if err != nil {
			return outcomes, p.stageErr(StageRendering, err)
		}

		out, err := p.submit(ctx, []domain.Owner{owner}, content, variables, opts.FailSilently)
		outcomes[i] = out
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (p *Pipeline) ownerVars(owner domain.Owner) map[string]any {
	vars := map[string]any{"owner_email": owner.Email()}
	if p.opts.varsFor != nil {
		for k, v := range p.opts.varsFor(owner) {
			vars[k] = v
		}
	}
	return vars
}
