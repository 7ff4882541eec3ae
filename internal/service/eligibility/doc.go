// Package eligibility decides which owners may receive a templated mail now.
//
// The decision is driven by a domain.Policy (send once, or at most once per
// window) and the delivery history stored under the template's label. The
// history lookup is a HistoryRepository; the Postgres implementation lives
// in repository/postgres.
package eligibility
