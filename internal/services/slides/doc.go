// Package slides implements the slides source handler.
//
// The handler expects one local media file per entity id under the configured
// media directory (<media_dir>/<entityID>.<ext>). It probes the file with
// ffprobe, then runs ffmpeg's scene-change select filter with showinfo to
// extract representative frames into <slides_dir>/<entity>/, spaced at least
// interval_seconds apart and capped at max_slides. Frame timestamps come from
// the showinfo lines on ffmpeg's stderr.
//
// Slide events are emitted only after ffmpeg exits, when the frame files are
// durable, so every emitted image path is readable by the time a client sees
// it. A manifest.json with the extraction parameters and items is written
// atomically next to the frames. A video with no scene changes above the
// threshold legitimately yields zero slides.
package slides
