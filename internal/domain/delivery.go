package domain

import "time"

// DeliveryRecord is one mail sent to one recipient under one provider
// message. (EmailTo, MessageID) is unique.
type DeliveryRecord struct {
	ID         string    `json:"id" db:"id"`
	EmailFrom  string    `json:"email_from" db:"email_from"`
	EmailTo    string    `json:"email_to" db:"email_to"`
	MessageID  string    `json:"message_id" db:"message_id"`
	Profile    string    `json:"profile" db:"profile"`
	StorageURL string    `json:"storage_url,omitempty" db:"storage_url"`
	Owner      OwnerRef  `json:"owner"`
	LabelID    *int64    `json:"label_id,omitempty" db:"label_id"`
	Tags       []string  `json:"tags,omitempty" db:"tags"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	Flags StatusFlags `json:"flags"`
}

// StatusFlags are the per-record delivery states reported by the provider.
// A flag only ever goes from false to true.
type StatusFlags struct {
	Accepted     bool `json:"has_accepted" db:"has_accepted"`
	Rejected     bool `json:"has_rejected" db:"has_rejected"`
	Delivered    bool `json:"has_delivered" db:"has_delivered"`
	Failed       bool `json:"has_failed" db:"has_failed"`
	Opened       bool `json:"has_opened" db:"has_opened"`
	Clicked      bool `json:"has_clicked" db:"has_clicked"`
	Unsubscribed bool `json:"has_unsubscribed" db:"has_unsubscribed"`
	Complained   bool `json:"has_complained" db:"has_complained"`
	Stored       bool `json:"has_stored" db:"has_stored"`
}

// Set raises the flag matching kind. Unknown kinds are ignored. Stored is
// not an event kind; it is raised when content is attached.
func (f *StatusFlags) Set(kind EventKind) {
	switch kind {
	case EventAccepted:
		f.Accepted = true
	case EventRejected:
		f.Rejected = true
	case EventDelivered:
		f.Delivered = true
	case EventFailed:
		f.Failed = true
	case EventOpened:
		f.Opened = true
	case EventClicked:
		f.Clicked = true
	case EventUnsubscribed:
		f.Unsubscribed = true
	case EventComplained:
		f.Complained = true
	}
}

// Has reports whether the flag for kind is set.
func (f StatusFlags) Has(kind EventKind) bool {
	switch kind {
	case EventAccepted:
		return f.Accepted
	case EventRejected:
		return f.Rejected
	case EventDelivered:
		return f.Delivered
	case EventFailed:
		return f.Failed
	case EventOpened:
		return f.Opened
	case EventClicked:
		return f.Clicked
	case EventUnsubscribed:
		return f.Unsubscribed
	case EventComplained:
		return f.Complained
	}
	return false
}

// DeliveryContent is the rendered message as stored by the provider, fetched
// the first time a webhook points at it.
type DeliveryContent struct {
	MailID    string    `json:"mail_id" db:"mail_id"`
	Subject   string    `json:"subject" db:"subject"`
	BodyText  string    `json:"body_text" db:"body_text"`
	BodyHTML  string    `json:"body_html" db:"body_html"`
	BodyPlain string    `json:"body_plain" db:"body_plain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Label is a named category attached to a batch of sent mail. Slug is
// unique; labels created implicitly by a send use the slug as the name.
type Label struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
