// Package synthesis implements the HTTP client for the text-to-speech API.
// It converts instruction step text into MP3 audio with retry logic.
package synthesis
