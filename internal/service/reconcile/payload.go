package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/socivy/rebel/internal/domain"
)

// Payload is the part of a Mailgun event the reconciler acts on.
type Payload struct {
	Kind       domain.EventKind
	Recipient  string
	MessageID  string
	URL        string
	StorageURL string
}

type eventData struct {
	Event     string `json:"event"`
	Recipient string `json:"recipient"`
	Message   *struct {
		Headers struct {
			MessageID string `json:"message-id"`
		} `json:"headers"`
	} `json:"message"`
	URL     string `json:"url"`
	Storage *struct {
		URL string `json:"url"`
	} `json:"storage"`
}

// ParsePayload decodes a webhook body of the form {"event-data": {...}}.
func ParsePayload(body []byte) (Payload, error) {
	var envelope struct {
		EventData json.RawMessage `json:"event-data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(envelope.EventData) == 0 || string(envelope.EventData) == "null" {
		return Payload{}, fmt.Errorf("%w: no event-data", ErrMalformedPayload)
	}
	return ParseEventData(envelope.EventData)
}

// ParseEventData decodes one event object, as found under "event-data" in
// a webhook or as an item of the events API.
func ParseEventData(raw []byte) (Payload, error) {
	var data eventData
	if err := json.Unmarshal(raw, &data); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if data.Message == nil {
		return Payload{}, fmt.Errorf("%w: no message section", ErrMalformedPayload)
	}
	messageID := strings.Trim(strings.TrimSpace(data.Message.Headers.MessageID), "<>")
	if messageID == "" {
		return Payload{}, fmt.Errorf("%w: no message-id", ErrMalformedPayload)
	}

	kind, err := domain.ParseEventKind(data.Event)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownEvent, data.Event)
	}

	p := Payload{
		Kind:      kind,
		Recipient: data.Recipient,
		MessageID: messageID,
		URL:       data.URL,
	}
	if data.Storage != nil {
		p.StorageURL = data.Storage.URL
	}
	return p, nil
}
