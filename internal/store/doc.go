// Package store persists jobs, extracted instructions, and synthesized
// audio chunk records in SQLite.
package store
