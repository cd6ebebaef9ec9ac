// Package protocol defines the live session wire messages.
// It handles JSON control message parsing and validation on the client side,
// and typed event construction and encoding on the server side.
package protocol
