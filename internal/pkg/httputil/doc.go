// Package httputil holds the response helpers shared by the HTTP handlers,
// so every endpoint formats errors and bodies the same way.
package httputil
