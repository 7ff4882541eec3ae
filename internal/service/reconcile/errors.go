package reconcile

import "errors"

// Sentinel errors for webhook ingestion. The HTTP layer maps all but
// ErrRecordBusy to 404.
var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrUnknownEvent     = errors.New("unknown event kind")
	ErrRecordNotFound   = errors.New("delivery record not found")
	ErrContentNotFound  = errors.New("delivery content not found")
	ErrRecordBusy       = errors.New("delivery record is locked by another ingest")
)
