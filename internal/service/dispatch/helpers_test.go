package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
	"github.com/socivy/rebel/internal/service/dispatch"
)

type user struct {
	id    int64
	email string
}

func (u user) Email() string        { return u.email }
func (u user) AdminLink() string    { return fmt.Sprintf("/admin/users/%d", u.id) }
func (u user) Ref() domain.OwnerRef { return domain.OwnerRef{Kind: "user", ID: u.id} }

var (
	alice = user{1, "a@example.com"}
	bob   = user{2, "bob@example.com"}
	carol = user{3, "carol@example.com"}
)

// memStore is an in-memory Store and HistoryRepository.
type memStore struct {
	mu      sync.Mutex
	labels  map[string]int64
	records []domain.DeliveryRecord
	slugs   map[string]string // record id -> label slug
	fail    error
}

func newMemStore() *memStore {
	return &memStore{labels: map[string]int64{}, slugs: map[string]string{}}
}

func (m *memStore) SaveBatch(_ context.Context, labelSlug string, records []domain.DeliveryRecord) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	id, ok := m.labels[labelSlug]
	if !ok {
		id = int64(len(m.labels) + 1)
		m.labels[labelSlug] = id
	}
	out := make([]domain.DeliveryRecord, len(records))
	for i, r := range records {
		labelID := id
		r.LabelID = &labelID
		m.records = append(m.records, r)
		m.slugs[r.ID] = labelSlug
		out[i] = r
	}
	return out, nil
}

func (m *memStore) SentOwners(_ context.Context, label string, refs []domain.OwnerRef, since *time.Time) (map[domain.OwnerRef]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[domain.OwnerRef]bool, len(refs))
	for _, r := range refs {
		want[r] = true
	}
	out := make(map[domain.OwnerRef]bool)
	for _, r := range m.records {
		if m.slugs[r.ID] != label || !want[r.Owner] {
			continue
		}
		if since != nil && r.CreatedAt.Before(*since) {
			continue
		}
		out[r.Owner] = true
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeMailgun is an httptest Mailgun messages endpoint that records the
// submitted forms.
type fakeMailgun struct {
	srv *httptest.Server

	mu     sync.Mutex
	forms  []url.Values
	status int
	body   string
}

func newFakeMailgun(t *testing.T) *fakeMailgun {
	t.Helper()
	f := &fakeMailgun{status: http.StatusOK, body: `{"id":"<foo>","message":"Queued. Thank you."}`}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			t.Errorf("parse form: %v", err)
			return
		}
		f.mu.Lock()
		f.forms = append(f.forms, r.PostForm)
		status, body := f.status, f.body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMailgun) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeMailgun) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forms)
}

func (f *fakeMailgun) form(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[i]
}

func registryFor(baseURL string) *mailgun.Registry {
	return mailgun.NewRegistry(config.RebelConfig{
		Profiles: map[string]config.ProfileConfig{
			config.DefaultProfile: {
				Email:          "Rebel <noreply@mg.example.com>",
				TimeoutSeconds: 5,
				API: config.APIConfig{
					APIKey: "test-key",
					Domain: "mg.example.com",
					APIURL: baseURL,
				},
			},
		},
	})
}

func welcomeTemplate() dispatch.Template {
	return dispatch.Template{
		Profile:         config.DefaultProfile,
		Label:           "test",
		SubjectTemplate: "\n  Hello {{ name | default: \"there\" }}\n",
		PlainTemplate:   "Hi {{ name | default: \"there\" }}, welcome.",
		Policy:          domain.Policy{SendOnce: true},
	}
}

type fixture struct {
	mg    *fakeMailgun
	store *memStore
}

func newFixture(t *testing.T) *fixture {
	return &fixture{mg: newFakeMailgun(t), store: newMemStore()}
}

func (f *fixture) deps() dispatch.Deps {
	return dispatch.Deps{
		Requesters: dispatch.FromRegistry(registryFor(f.mg.srv.URL)),
		Store:      f.store,
		History:    f.store,
	}
}

func (f *fixture) pipeline(t *testing.T, tpl dispatch.Template, opts ...dispatch.Option) *dispatch.Pipeline {
	t.Helper()
	p, err := dispatch.NewPipeline(tpl, f.deps(), opts...)
	require.NoError(t, err)
	return p
}

func owners(us ...user) []domain.Owner {
	out := make([]domain.Owner, len(us))
	for i, u := range us {
		out[i] = u
	}
	return out
}
