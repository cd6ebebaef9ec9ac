// Package pipeline orchestrates the batch flow from audio or text input to
// a persisted job: transcription, instruction extraction, per-step speech
// synthesis over a shared worker pool, artifact upload, and database writes.
package pipeline
