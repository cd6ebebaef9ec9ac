// Package audio handles audio buffering and format conversion.
// It implements compressed envelope accumulation with decode readiness checks,
// PCM buffering with overlap trimming, WAV encoding, and ffmpeg-based decoding.
package audio
