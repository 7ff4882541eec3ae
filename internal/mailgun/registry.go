package mailgun

import (
	"context"
	"fmt"
	"sort"

	"github.com/socivy/rebel/internal/config"
)

// Registry holds one Client per configured profile.
type Registry struct {
	clients map[string]*Client
}

// NewRegistry builds a client for every profile in cfg. opts apply to all
// of them.
func NewRegistry(cfg config.RebelConfig, opts ...Option) *Registry {
	r := &Registry{clients: make(map[string]*Client, len(cfg.Profiles))}
	for name, p := range cfg.Profiles {
		r.clients[name] = NewClient(name, p, cfg.TestMode, opts...)
	}
	return r
}

// Client returns the client for profile.
func (r *Registry) Client(profile string) (*Client, error) {
	c, ok := r.clients[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profile)
	}
	return c, nil
}

// Profiles lists the configured profile names, sorted.
func (r *Registry) Profiles() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FetchStored downloads a stored message with the credentials of profile.
func (r *Registry) FetchStored(ctx context.Context, profile, storageURL string) (StoredMessage, error) {
	c, err := r.Client(profile)
	if err != nil {
		return StoredMessage{}, err
	}
	return c.FetchStored(ctx, storageURL)
}
