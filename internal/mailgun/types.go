package mailgun

import "encoding/json"

// File is a file part of an outgoing message. Data is held in memory so a
// request can be encoded more than once (see Client.Resubmit).
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// MessageRequest is one call to the messages endpoint. Zero values mean
// "not set": From falls back to the profile address and a nil TestMode to
// the global test flag.
type MessageRequest struct {
	Subject     string
	From        string
	To          []string
	CC          []string
	BCC         []string
	Text        string
	HTML        string
	Variables   map[string]map[string]any
	Tags        []string
	TestMode    *bool
	Inlines     []File
	Attachments []File
}

// Recipients returns to, cc and bcc in that order.
func (r MessageRequest) Recipients() []string {
	out := make([]string, 0, len(r.To)+len(r.CC)+len(r.BCC))
	out = append(out, r.To...)
	out = append(out, r.CC...)
	return append(out, r.BCC...)
}

func (r MessageRequest) clone() MessageRequest {
	c := r
	c.To = append([]string(nil), r.To...)
	c.CC = append([]string(nil), r.CC...)
	c.BCC = append([]string(nil), r.BCC...)
	c.Tags = append([]string(nil), r.Tags...)
	c.Inlines = append([]File(nil), r.Inlines...)
	c.Attachments = append([]File(nil), r.Attachments...)
	if r.TestMode != nil {
		v := *r.TestMode
		c.TestMode = &v
	}
	if r.Variables != nil {
		c.Variables = make(map[string]map[string]any, len(r.Variables))
		for k, v := range r.Variables {
			c.Variables[k] = v
		}
	}
	return c
}

// files returns the file parts to upload and the form field they go under.
// Attachments replace inlines entirely when both are given.
func (r MessageRequest) files() (string, []File) {
	if len(r.Attachments) > 0 {
		return "attachment", r.Attachments
	}
	if len(r.Inlines) > 0 {
		return "inline", r.Inlines
	}
	return "", nil
}

// SendResult is the accepted outcome of a send. It is a value: accessors
// return copies and nothing on it talks to the network.
type SendResult struct {
	messageID  string
	message    string
	recipients []string
	request    MessageRequest
}

// MessageID is the provider message id without the surrounding angle brackets.
func (r SendResult) MessageID() string { return r.messageID }

// Message is the provider's human-readable status, e.g. "Queued. Thank you."
func (r SendResult) Message() string { return r.message }

// Recipients lists every address the message was sent to.
func (r SendResult) Recipients() []string { return append([]string(nil), r.recipients...) }

// Request returns the request that produced this result, for Client.Resubmit.
func (r SendResult) Request() MessageRequest { return r.request.clone() }

// StoredMessage is the subset of a stored message used for DeliveryContent.
type StoredMessage struct {
	Subject      string `json:"subject"`
	StrippedText string `json:"stripped-text"`
	StrippedHTML string `json:"stripped-html"`
	BodyPlain    string `json:"body-plain"`
}

// EventQuery filters the events endpoint. Empty fields are not sent.
type EventQuery struct {
	MessageID string
	Event     string
	List      string
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type eventsResponse struct {
	Items  []json.RawMessage `json:"items"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}
