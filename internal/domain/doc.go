// Package domain defines the core types of the mail dispatch layer: delivery
// records and their provider events, labels, owners and send policies.
//
// Everything here is a value type or a small interface. Nothing in the
// package touches the database, HTTP or the provider, and it imports no
// other internal package, so services and repositories can share it freely.
// Enumerations (event kinds, suppression reasons) and their validation live
// next to the types they constrain.
package domain
