// Package dispatch sends templated mail to owners and records what was sent.
//
// A Pipeline is built once per Template and fails fast on incomplete
// configuration. Each Send runs filtering (eligibility), rendering,
// submitting (one Mailgun request for the whole batch) and persisting (one
// store transaction for every record plus the label upsert). SendEach is the
// per-owner variant: one request and one record per owner. Group loads its
// owners from a source and drives either mode.
//
// The pipeline never retries a failed submit. Provider rejections can be
// downgraded to a Failed outcome with FailSilently; connection failures are
// always returned.
package dispatch
