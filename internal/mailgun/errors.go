package mailgun

import (
	"errors"
	"fmt"
)

// ErrUnknownProfile is returned by Registry for a profile that is not configured.
var ErrUnknownProfile = errors.New("mailgun: unknown profile")

// ErrUntrustedStorageURL is returned by FetchStored for a storage URL outside
// the profile's API host and mailgun.net. No request is made.
var ErrUntrustedStorageURL = errors.New("mailgun: untrusted storage url")

// TargetMissingError is returned when a message has no to, cc or bcc.
// Nothing is sent.
type TargetMissingError struct{}

func (e *TargetMissingError) Error() string {
	return "mailgun: message has no to, cc or bcc recipients"
}

// ProviderAPIError is a non-2xx answer from Mailgun. Body holds the raw
// response for logging; Message is the decoded "message" field when the
// body was JSON.
type ProviderAPIError struct {
	StatusCode int
	Message    string
	Method     string
	URL        string
	Body       []byte
}

func (e *ProviderAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mailgun: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mailgun: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, string(e.Body))
}

// InvalidAddressError is a ProviderAPIError whose message says a recipient
// address was rejected. errors.As with *ProviderAPIError also matches it.
type InvalidAddressError struct {
	API *ProviderAPIError
}

func (e *InvalidAddressError) Error() string {
	return "mailgun: invalid address: " + e.API.Message
}

func (e *InvalidAddressError) Unwrap() error { return e.API }

// ConnectionError means no response was received from Mailgun.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailgun: %s %s: connection failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
