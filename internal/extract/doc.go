// Package extract turns transcripts into structured classroom instructions
// using a JSON-constrained chat completion model.
package extract
