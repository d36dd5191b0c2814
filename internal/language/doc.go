// Package language wraps the x/text language machinery behind the small
// surface the caption pipeline needs: parsing provider language codes,
// matching caption tracks against the configured preference list, and
// producing display names for status output.
package language
