// Package session implements the live transcription session lifecycle:
// per-connection audio buffering, incremental decode and transcription,
// control message handling, and finalization into the batch pipeline.
package session
