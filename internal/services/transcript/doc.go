// Package transcript implements the transcript source.
//
// The source fetches video metadata and caption tracks from a configurable
// provider API, selects the track that best matches the configured language
// preferences (manual tracks beating auto-generated ones when configured),
// normalizes the cues, and publishes the resulting Document both as the
// source's artifact fragment and on the run's exchange for the analysis
// source to consume.
//
// # Normalization
//
// Cue text is whitespace-collapsed and empty cues are dropped. Adjacent cues
// whose token fingerprints are nearly identical are merged into one cue
// spanning the combined time range; auto-captioning repeats lines as they
// scroll and the duplicates would otherwise dominate the prose text.
//
// # Entry Points
//
// NewClient/Client: provider HTTP API (metadata, tracks, cues, ping).
// NewService/Service: the runner source handler.
// Service.Fetch: transcript retrieval without stream events, for runs that
// analyze without the transcript source.
// SelectTrack: language-preference track selection.
package transcript
