// Package textutil provides text fingerprinting and path-token helpers.
//
// Fingerprints are normalized term-frequency vectors compared by cosine
// similarity; the transcript pipeline uses them to drop near-duplicate
// caption cues. Tokenization lowercases text, splits on non-alphanumeric
// characters, and filters tokens shorter than 3 characters.
//
// SanitizeToken maps arbitrary identifiers onto safe directory names for
// per-entity output paths.
package textutil
