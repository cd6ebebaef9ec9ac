// Package storage persists synthesized audio artifacts in S3-compatible
// object storage and exposes their public URLs.
package storage
