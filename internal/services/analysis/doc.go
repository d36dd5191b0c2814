// Package analysis implements the analysis source handler.
//
// The handler takes the normalized transcript (shared over the run's exchange
// when the run includes the transcript source, fetched directly otherwise)
// and asks the configured LLM for each section listed in analysis.sections:
// summary, takeaways, key_points, chapters. Every section is emitted as its
// own partial fragment as soon as it is ready, so attached clients render
// sections incrementally; the consolidated payload keyed by section name
// becomes the handler's contribution to the run artifact.
//
// How the model produces section content is opaque to the rest of the system.
// The handler depends only on the Completer interface and validates the shape
// of what comes back: summaries must be non-empty strings, list sections
// non-empty string arrays, chapters titled entries ordered by start time.
package analysis
