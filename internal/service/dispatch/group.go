package dispatch

import (
	"context"
	"fmt"

	"github.com/socivy/rebel/internal/domain"
)

// OwnerSource lists the owners a Group mails.
type OwnerSource interface {
	Owners(ctx context.Context) ([]domain.Owner, error)
}

// OwnerSourceFunc adapts a function to OwnerSource.
type OwnerSourceFunc func(ctx context.Context) ([]domain.Owner, error)

func (f OwnerSourceFunc) Owners(ctx context.Context) ([]domain.Owner, error) { return f(ctx) }

// Group sends a pipeline's template to the owners of a source.
type Group struct {
	Source   OwnerSource
	Pipeline *Pipeline
	// SingleSendMode sends one message per owner instead of one batch.
	SingleSendMode bool
}

// SendNew mails the first count owners of the source (all of them when
// count <= 0) and returns the records created. In single send mode it
// returns the first record of every successful send.
func (g *Group) SendNew(ctx context.Context, count int, force bool) ([]domain.DeliveryRecord, error) {
	owners, err := g.Source.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("load owners: %w", err)
	}
	if count > 0 && len(owners) > count {
		owners = owners[:count]
	}

	opts := SendOptions{Force: force}
	if !g.SingleSendMode {
		out, err := g.Pipeline.Send(ctx, owners, opts)
		if err != nil {
			return nil, err
		}
		return out.Records, nil
	}

	outcomes, err := g.Pipeline.SendEach(ctx, owners, opts)
	var records []domain.DeliveryRecord
	for _, out := range outcomes {
		if out.OK() && len(out.Records) > 0 {
			records = append(records, out.Records[0])
		}
	}
	return records, err
}
