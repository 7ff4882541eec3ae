package reconcile

import (
	"errors"
	"testing"

	"github.com/socivy/rebel/internal/domain"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Payload
		wantErr error
	}{
		{
			name: "delivered",
			body: `{"signature":{},"event-data":{"event":"delivered","recipient":"a@example.com","message":{"headers":{"message-id":"foo@mg.example.com"}}}}`,
			want: Payload{Kind: domain.EventDelivered, Recipient: "a@example.com", MessageID: "foo@mg.example.com"},
		},
		{
			name: "clicked with storage",
			body: `{"event-data":{"event":"clicked","recipient":"a@example.com","url":"https://example.com/x","storage":{"url":"https://storage/1","key":"k"},"message":{"headers":{"message-id":"<foo>"}}}}`,
			want: Payload{
				Kind:       domain.EventClicked,
				Recipient:  "a@example.com",
				MessageID:  "foo",
				URL:        "https://example.com/x",
				StorageURL: "https://storage/1",
			},
		},
		{name: "not json", body: `event=delivered`, wantErr: ErrMalformedPayload},
		{name: "no event-data", body: `{"signature":{}}`, wantErr: ErrMalformedPayload},
		{name: "no message", body: `{"event-data":{"event":"delivered","recipient":"a@example.com"}}`, wantErr: ErrMalformedPayload},
		{name: "empty message id", body: `{"event-data":{"event":"delivered","message":{"headers":{}}}}`, wantErr: ErrMalformedPayload},
		{name: "stored is a flag, not an event", body: `{"event-data":{"event":"stored","storage":{"url":"https://storage/1"},"message":{"headers":{"message-id":"foo"}}}}`, wantErr: ErrUnknownEvent},
		{name: "unknown kind", body: `{"event-data":{"event":"bounced","message":{"headers":{"message-id":"foo"}}}}`, wantErr: ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
