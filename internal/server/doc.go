// Package server implements the HTTP API: batch audio/text analysis, job
// management and monitoring endpoints, and the websocket upgrade that feeds
// live transcription sessions.
package server
