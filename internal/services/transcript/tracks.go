package transcript

import (
	"lectern/internal/language"
)

// SelectTrack picks the caption track best matching the preferred languages.
// When preferManual is set, manually authored tracks are matched first and
// auto-generated ones are considered only if no manual track fits; a manual
// track in a preferred language always beats an auto track in a better one.
func SelectTrack(tracks []Track, preferred []string, preferManual bool) (Track, bool) {
	if len(tracks) == 0 {
		return Track{}, false
	}
	if preferManual {
		manual := make([]Track, 0, len(tracks))
		for _, track := range tracks {
			if track.IsManual() {
				manual = append(manual, track)
			}
		}
		if track, ok := matchTracks(manual, preferred); ok {
			return track, true
		}
	}
	return matchTracks(tracks, preferred)
}

func matchTracks(tracks []Track, preferred []string) (Track, bool) {
	if len(tracks) == 0 {
		return Track{}, false
	}
	codes := make([]string, len(tracks))
	for i, track := range tracks {
		codes[i] = track.Language
	}
	idx, ok := language.Match(preferred, codes)
	if !ok {
		return Track{}, false
	}
	return tracks[idx], true
}
