package transcript

import "testing"

func TestSelectTrackPrefersManual(t *testing.T) {
	tracks := []Track{
		{ID: "auto-en", Language: "en", Kind: "auto"},
		{ID: "manual-en", Language: "en", Kind: "manual"},
	}
	track, ok := SelectTrack(tracks, []string{"en"}, true)
	if !ok {
		t.Fatal("expected a track")
	}
	if track.ID != "manual-en" {
		t.Fatalf("expected manual-en, got %s", track.ID)
	}
}

func TestSelectTrackManualBeatsBetterAutoLanguage(t *testing.T) {
	tracks := []Track{
		{ID: "auto-en", Language: "en", Kind: "auto"},
		{ID: "manual-de", Language: "de", Kind: "manual"},
	}
	track, ok := SelectTrack(tracks, []string{"en", "de"}, true)
	if !ok {
		t.Fatal("expected a track")
	}
	if track.ID != "manual-de" {
		t.Fatalf("expected manual-de, got %s", track.ID)
	}
}

func TestSelectTrackFallsBackToAuto(t *testing.T) {
	tracks := []Track{
		{ID: "manual-fr", Language: "fr", Kind: "manual"},
		{ID: "auto-en", Language: "en", Kind: "auto"},
	}
	track, ok := SelectTrack(tracks, []string{"en"}, true)
	if !ok {
		t.Fatal("expected a track")
	}
	if track.ID != "auto-en" {
		t.Fatalf("expected auto-en, got %s", track.ID)
	}
}

func TestSelectTrackMatchesRegionalVariant(t *testing.T) {
	tracks := []Track{
		{ID: "manual-en-gb", Language: "en-GB", Kind: "manual"},
	}
	track, ok := SelectTrack(tracks, []string{"en"}, true)
	if !ok {
		t.Fatal("expected a track")
	}
	if track.ID != "manual-en-gb" {
		t.Fatalf("expected manual-en-gb, got %s", track.ID)
	}
}

func TestSelectTrackNoLanguageMatch(t *testing.T) {
	tracks := []Track{
		{ID: "manual-fr", Language: "fr", Kind: "manual"},
	}
	if _, ok := SelectTrack(tracks, []string{"es"}, true); ok {
		t.Fatal("expected no track for unrelated language")
	}
}

func TestSelectTrackWithoutManualPreference(t *testing.T) {
	tracks := []Track{
		{ID: "auto-en", Language: "en", Kind: "auto"},
		{ID: "manual-en", Language: "en", Kind: "manual"},
	}
	track, ok := SelectTrack(tracks, []string{"en"}, false)
	if !ok {
		t.Fatal("expected a track")
	}
	if track.ID != "auto-en" {
		t.Fatalf("expected first matching track auto-en, got %s", track.ID)
	}
}

func TestSelectTrackEmpty(t *testing.T) {
	if _, ok := SelectTrack(nil, []string{"en"}, true); ok {
		t.Fatal("expected no track from empty list")
	}
}
