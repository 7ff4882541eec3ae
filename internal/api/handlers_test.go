package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socivy/rebel/internal/auth"
	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/service/reconcile"
	"github.com/socivy/rebel/internal/service/suppression"
)

type fakeEvents struct {
	ingestErr error
	got       []reconcile.Payload
	contents  map[string]domain.DeliveryContent
	records   map[string]bool
}

func (f *fakeEvents) Ingest(_ context.Context, p reconcile.Payload) error {
	f.got = append(f.got, p)
	return f.ingestErr
}

func (f *fakeEvents) Content(_ context.Context, mailID string) (domain.DeliveryContent, error) {
	if c, ok := f.contents[mailID]; ok {
		return c, nil
	}
	if f.records[mailID] {
		return domain.DeliveryContent{}, reconcile.ErrContentNotFound
	}
	return domain.DeliveryContent{}, reconcile.ErrRecordNotFound
}

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

const deliveredBody = `{"event-data":{"event":"delivered","recipient":"a@example.com","message":{"headers":{"message-id":"<foo@mg.example.com>"}}}}`

func postEvent(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleEvent_OK(t *testing.T) {
	events := &fakeEvents{}
	router := SetupRoutes(NewHandlers(events, nil), nil, nil)

	rec := postEvent(t, router, deliveredBody)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Len(t, events.got, 1)
	assert.Equal(t, "foo@mg.example.com", events.got[0].MessageID)
	assert.Equal(t, domain.EventDelivered, events.got[0].Kind)
}

func TestHandleEvent_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ingestErr error
		want      int
	}{
		{"invalid json", `not json`, nil, http.StatusNotFound},
		{"missing message", `{"event-data":{"event":"delivered","recipient":"a@example.com"}}`, nil, http.StatusNotFound},
		{"unknown event", `{"event-data":{"event":"bounced","message":{"headers":{"message-id":"foo"}}}}`, nil, http.StatusNotFound},
		{"record not found", deliveredBody, reconcile.ErrRecordNotFound, http.StatusNotFound},
		{"untrusted storage url", deliveredBody, fmt.Errorf("%w: storage host", reconcile.ErrMalformedPayload), http.StatusNotFound},
		{"record busy", deliveredBody, reconcile.ErrRecordBusy, http.StatusServiceUnavailable},
		{"store failure", deliveredBody, errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := SetupRoutes(NewHandlers(&fakeEvents{ingestErr: tt.ingestErr}, nil), nil, nil)
			rec := postEvent(t, router, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleEvent_MethodNotAllowed(t *testing.T) {
	router := SetupRoutes(NewHandlers(&fakeEvents{}, nil), nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/event", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// superuserRouter returns a router whose auth manager already holds a
// session for ops@example.com under the cookie value "good".
func superuserRouter(t *testing.T, events EventService, opts ...HandlerOption) http.Handler {
	t.Helper()
	store := auth.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "good", &auth.Session{
		Email:     "ops@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	m := auth.NewManager(config.AuthConfig{
		Enabled:      true,
		BaseURL:      "http://rebel.local",
		Superusers:   []string{"ops@example.com"},
		CookieName:   "rebel_session",
		CookieMaxAge: 3600,
	}, store)
	return SetupRoutes(NewHandlers(events, nil, opts...), m, []string{"http://localhost:5173"})
}

func TestGetContent(t *testing.T) {
	events := &fakeEvents{
		contents: map[string]domain.DeliveryContent{"m1": {MailID: "m1", BodyHTML: "<p>Hello</p>"}},
		records:  map[string]bool{"m2": true},
	}
	router := superuserRouter(t, events)

	tests := []struct {
		name   string
		path   string
		cookie string
		want   int
		body   string
	}{
		{"superuser sees html", "/content/m1", "good", http.StatusOK, "<p>Hello</p>"},
		{"no session", "/content/m1", "", http.StatusForbidden, ""},
		{"unknown session", "/content/m1", "forged", http.StatusForbidden, ""},
		{"record without content", "/content/m2", "good", http.StatusNotFound, ""},
		{"no record", "/content/m3", "good", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "rebel_session", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
				assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			}
		})
	}
}

func TestGetContent_AuthDisabled(t *testing.T) {
	events := &fakeEvents{contents: map[string]domain.DeliveryContent{"m1": {BodyHTML: "x"}}}
	router := SetupRoutes(NewHandlers(events, nil), nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content/m1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", fakeDB{}, http.StatusOK},
		{"database down", fakeDB{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := SetupRoutes(NewHandlers(&fakeEvents{}, tt.db), nil, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	router := superuserRouter(t, &fakeEvents{})
	req := httptest.NewRequest(http.MethodOptions, "/content/m1", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

type fakeSuppressions map[string]domain.Suppression

func (f fakeSuppressions) Lookup(_ context.Context, email string) (domain.Suppression, error) {
	if s, ok := f[email]; ok {
		return s, nil
	}
	return domain.Suppression{}, suppression.ErrNotFound
}

func TestGetSuppression(t *testing.T) {
	supp := fakeSuppressions{"a@example.com": {Email: "a@example.com", Reason: domain.ReasonComplaint}}
	router := superuserRouter(t, &fakeEvents{}, WithSuppressions(supp))

	get := func(path, cookie string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: "rebel_session", Value: cookie})
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/suppressions/a@example.com", "good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"complained"`)

	assert.Equal(t, http.StatusNotFound, get("/suppressions/b@example.com", "good").Code)
	assert.Equal(t, http.StatusForbidden, get("/suppressions/a@example.com", "").Code)
}
