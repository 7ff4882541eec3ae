// Package suppression keeps mail away from addresses that complained or
// unsubscribed.
//
// The list is derived from delivery records: once the reconciler raises the
// complained or unsubscribed flag on any record sent to an address, that
// address is suppressed. Service.Filter plugs into the dispatch pipeline as
// an owner validator.
package suppression
