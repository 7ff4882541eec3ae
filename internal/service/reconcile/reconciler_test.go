package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
	"github.com/socivy/rebel/internal/pkg/distlock"
	"github.com/socivy/rebel/internal/service/reconcile"
)

// memStore is an in-memory reconcile.Store.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*domain.DeliveryRecord
	contents map[string]domain.DeliveryContent
	events   []domain.Event
}

func newMemStore(records ...domain.DeliveryRecord) *memStore {
	m := &memStore{
		records:  map[string]*domain.DeliveryRecord{},
		contents: map[string]domain.DeliveryContent{},
	}
	for i := range records {
		rec := records[i]
		m.records[rec.ID] = &rec
	}
	return m
}

func (m *memStore) FindRecord(_ context.Context, messageID, recipient string) (domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.MessageID == messageID && rec.EmailTo == recipient {
			return *rec, nil
		}
	}
	return domain.DeliveryRecord{}, reconcile.ErrRecordNotFound
}

func (m *memStore) HasContent(_ context.Context, mailID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.contents[mailID]
	return ok, nil
}

func (m *memStore) AttachContent(_ context.Context, mailID, storageURL string, content domain.DeliveryContent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contents[mailID]; ok {
		return false, nil
	}
	m.contents[mailID] = content
	rec := m.records[mailID]
	rec.StorageURL = storageURL
	rec.Flags.Stored = true
	return true, nil
}

func (m *memStore) ApplyEvent(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	m.records[ev.MailID].Flags.Set(ev.Kind)
	return nil
}

func (m *memStore) GetContent(_ context.Context, mailID string) (domain.DeliveryContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[mailID]; !ok {
		return domain.DeliveryContent{}, reconcile.ErrRecordNotFound
	}
	c, ok := m.contents[mailID]
	if !ok {
		return domain.DeliveryContent{}, reconcile.ErrContentNotFound
	}
	return c, nil
}

func (m *memStore) record(id string) domain.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[id]
}

// fakeFetcher serves one stored message and counts fetches.
type fakeFetcher struct {
	calls int32
	err   error
}

func (f *fakeFetcher) FetchStored(_ context.Context, profile, storageURL string) (mailgun.StoredMessage, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return mailgun.StoredMessage{}, f.err
	}
	return mailgun.StoredMessage{
		Subject:      "Welcome",
		StrippedText: "Hi there",
		StrippedHTML: "<p>Hi there</p>",
		BodyPlain:    "Hi there\n-- \nRebel",
	}, nil
}

type failingArchive struct{ calls int }

func (a *failingArchive) Put(context.Context, domain.DeliveryContent) error {
	a.calls++
	return errors.New("s3 unavailable")
}

var sent = domain.DeliveryRecord{
	ID:        "rec-1",
	EmailTo:   "a@example.com",
	MessageID: "foo@mg.example.com",
	Profile:   "DEFAULT",
}

func payload(kind domain.EventKind) reconcile.Payload {
	return reconcile.Payload{Kind: kind, Recipient: sent.EmailTo, MessageID: sent.MessageID}
}

func withStorage(p reconcile.Payload) reconcile.Payload {
	p.StorageURL = "https://storage.mailgun.net/v3/domains/mg.example.com/messages/key-1"
	return p
}

func TestIngest_RecordNotFound(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{})

	p := payload(domain.EventDelivered)
	p.Recipient = "someone@example.com"
	err := r.Ingest(context.Background(), p)
	assert.ErrorIs(t, err, reconcile.ErrRecordNotFound)
	assert.Empty(t, store.events)
}

func TestIngest_ContentCreatedOnce(t *testing.T) {
	store := newMemStore(sent)
	fetcher := &fakeFetcher{}
	r := reconcile.New(store, fetcher)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, withStorage(payload(domain.EventAccepted))))
	require.NoError(t, r.Ingest(ctx, withStorage(payload(domain.EventDelivered))))

	assert.Len(t, store.contents, 1)
	assert.EqualValues(t, 1, fetcher.calls)

	content, err := r.Content(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", content.Subject)
	assert.Equal(t, "Hi there", content.BodyText)
	assert.Equal(t, "<p>Hi there</p>", content.BodyHTML)
	assert.Equal(t, "Hi there\n-- \nRebel", content.BodyPlain)

	rec := store.record(sent.ID)
	assert.True(t, rec.Flags.Stored)
	assert.Contains(t, rec.StorageURL, "key-1")
	assert.Len(t, store.events, 2)
}

func TestIngest_FlagsAreMonotonic(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{})
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, payload(domain.EventDelivered)))
	require.NoError(t, r.Ingest(ctx, payload(domain.EventOpened)))
	require.NoError(t, r.Ingest(ctx, payload(domain.EventDelivered)))

	flags := store.record(sent.ID).Flags
	assert.True(t, flags.Delivered)
	assert.True(t, flags.Opened)
	assert.False(t, flags.Clicked)
	assert.Len(t, store.events, 3)
}

func TestIngest_ClickedKeepsURL(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{}, reconcile.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	}))

	p := payload(domain.EventClicked)
	p.URL = "https://example.com/pricing"
	require.NoError(t, r.Ingest(context.Background(), p))

	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, domain.EventClicked, ev.Kind)
	assert.Equal(t, map[string]any{"url": "https://example.com/pricing"}, ev.ExtraData)
	assert.Equal(t, 2024, ev.CreatedAt.Year())
	assert.True(t, store.record(sent.ID).Flags.Clicked)
}

func TestIngest_FetchFailureAbortsEvent(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{err: &mailgun.ConnectionError{Op: "GET", Err: errors.New("refused")}})

	err := r.Ingest(context.Background(), withStorage(payload(domain.EventDelivered)))
	var connErr *mailgun.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Empty(t, store.events)
	assert.False(t, store.record(sent.ID).Flags.Delivered)
}

func TestIngest_UntrustedStorageURLIsMalformed(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{err: fmt.Errorf("%w: %q", mailgun.ErrUntrustedStorageURL, "https://attacker.example/x")})

	p := payload(domain.EventDelivered)
	p.StorageURL = "https://attacker.example/x"
	err := r.Ingest(context.Background(), p)
	assert.ErrorIs(t, err, reconcile.ErrMalformedPayload)
	assert.Empty(t, store.events)
	assert.Empty(t, store.contents)
	rec := store.record(sent.ID)
	assert.False(t, rec.Flags.Stored)
	assert.Empty(t, rec.StorageURL)
}

// racyStore reports no content on every check, as two webhooks that both
// pass HasContent before either attaches would see.
type racyStore struct{ *memStore }

func (racyStore) HasContent(context.Context, string) (bool, error) { return false, nil }

func TestIngest_LaterStorageURLDoesNotReplaceFirst(t *testing.T) {
	store := newMemStore(sent)
	fetcher := &fakeFetcher{}
	r := reconcile.New(racyStore{store}, fetcher)
	ctx := context.Background()

	require.NoError(t, r.Ingest(ctx, withStorage(payload(domain.EventAccepted))))
	p := payload(domain.EventDelivered)
	p.StorageURL = "https://storage.mailgun.net/v3/domains/mg.example.com/messages/key-2"
	require.NoError(t, r.Ingest(ctx, p))

	assert.EqualValues(t, 2, fetcher.calls)
	assert.Len(t, store.contents, 1)
	assert.Contains(t, store.record(sent.ID).StorageURL, "key-1")
}

func TestIngest_ArchiveFailureIsLoggedOnly(t *testing.T) {
	store := newMemStore(sent)
	archive := &failingArchive{}
	r := reconcile.New(store, &fakeFetcher{}, reconcile.WithArchive(archive))

	require.NoError(t, r.Ingest(context.Background(), withStorage(payload(domain.EventDelivered))))
	require.NoError(t, r.Ingest(context.Background(), withStorage(payload(domain.EventOpened))))
	assert.Equal(t, 1, archive.calls)
	assert.Len(t, store.contents, 1)
}

func TestContent_NotFound(t *testing.T) {
	r := reconcile.New(newMemStore(sent), &fakeFetcher{})

	_, err := r.Content(context.Background(), "missing")
	assert.ErrorIs(t, err, reconcile.ErrRecordNotFound)
	_, err = r.Content(context.Background(), sent.ID)
	assert.ErrorIs(t, err, reconcile.ErrContentNotFound)
}

func newLocks(t *testing.T) (*redis.Client, distlock.Factory) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, distlock.NewFactory(client, nil, time.Minute)
}

func TestIngest_ConcurrentWebhooksFetchOnce(t *testing.T) {
	_, locks := newLocks(t)
	store := newMemStore(sent)
	fetcher := &fakeFetcher{}
	r := reconcile.New(store, fetcher, reconcile.WithLocks(locks, 5*time.Second))

	kinds := []domain.EventKind{domain.EventAccepted, domain.EventDelivered, domain.EventOpened, domain.EventClicked}
	var wg sync.WaitGroup
	errs := make([]error, len(kinds))
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind domain.EventKind) {
			defer wg.Done()
			errs[i] = r.Ingest(context.Background(), withStorage(payload(kind)))
		}(i, kind)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, fetcher.calls)
	assert.Len(t, store.contents, 1)

	flags := store.record(sent.ID).Flags
	for _, kind := range kinds {
		assert.True(t, flags.Has(kind), kind)
	}
	assert.True(t, flags.Stored)
}

func TestIngest_RecordBusy(t *testing.T) {
	client, locks := newLocks(t)
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{}, reconcile.WithLocks(locks, 30*time.Millisecond))

	holder := distlock.NewRedisLock(client, "mail:"+sent.ID, time.Minute)
	ok, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	err = r.Ingest(context.Background(), payload(domain.EventDelivered))
	assert.ErrorIs(t, err, reconcile.ErrRecordBusy)
	assert.Empty(t, store.events)

	require.NoError(t, holder.Release(context.Background()))
	assert.NoError(t, r.Ingest(context.Background(), payload(domain.EventDelivered)))
}

type fakeLister struct {
	items []json.RawMessage
	query mailgun.EventQuery
}

func (f *fakeLister) ListEvents(_ context.Context, q mailgun.EventQuery) ([]json.RawMessage, error) {
	f.query = q
	return f.items, nil
}

func TestReplay(t *testing.T) {
	store := newMemStore(sent)
	r := reconcile.New(store, &fakeFetcher{})
	lister := &fakeLister{items: []json.RawMessage{
		json.RawMessage(`{"event":"accepted","recipient":"a@example.com","message":{"headers":{"message-id":"foo@mg.example.com"}}}`),
		json.RawMessage(`{"event":"delivered","recipient":"a@example.com","message":{"headers":{"message-id":"foo@mg.example.com"}}}`),
		json.RawMessage(`{"event":"delivered","recipient":"other@example.com","message":{"headers":{"message-id":"foo@mg.example.com"}}}`),
		json.RawMessage(`{"event":"bounced","recipient":"a@example.com","message":{"headers":{"message-id":"foo@mg.example.com"}}}`),
		json.RawMessage(`{"event":"delivered","recipient":"a@example.com"}`),
	}}

	stats, err := r.Replay(context.Background(), lister, sent.MessageID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ReplayStats{Applied: 2, Missing: 1, Skipped: 2}, stats)
	assert.Equal(t, sent.MessageID, lister.query.MessageID)

	flags := store.record(sent.ID).Flags
	assert.True(t, flags.Accepted)
	assert.True(t, flags.Delivered)
}
