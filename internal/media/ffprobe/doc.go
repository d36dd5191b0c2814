// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual stream properties
//   - Format: container-level metadata (duration, size)
//
// Primary entry point:
//   - Inspect: executes ffprobe and returns a parsed Result
//
// Slide extraction uses this to validate that an entity's media file holds a
// video stream and to learn its duration before scheduling ffmpeg.
package ffprobe
