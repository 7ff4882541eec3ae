package domain

import "time"

// SuppressionReason enumerates why an address no longer receives mail.
type SuppressionReason string

const (
	ReasonComplaint   SuppressionReason = "complained"
	ReasonUnsubscribe SuppressionReason = "unsubscribed"
)

// Suppression is an address that reported a complaint or unsubscribed on
// one of its delivery records.
type Suppression struct {
	Email     string            `json:"email" db:"email_to"`
	Reason    SuppressionReason `json:"reason"`
	MailID    string            `json:"mail_id" db:"id"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
