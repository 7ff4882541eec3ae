// Package reconcile applies Mailgun webhook events to delivery records.
//
// Ingest finds the record a payload refers to, attaches the stored message
// content the first time a payload points at it, appends the event and
// raises the matching status flag. Flags only ever go from false to true,
// and content is created at most once per record, so replays and duplicate
// deliveries of the same webhook are harmless.
//
// Work on one record is serialized by the store's row lock and, when
// configured, by a distributed lock around the whole ingest.
package reconcile
