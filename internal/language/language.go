package language

import (
	"strings"

	textlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Parse converts a caption language code (BCP 47 tag, ISO 639-1/2 code) into
// a canonical tag. Returns false for empty or unrecognized input.
func Parse(code string) (textlang.Tag, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return textlang.Und, false
	}
	tag, err := textlang.Parse(code)
	if err != nil || tag == textlang.Und {
		return textlang.Und, false
	}
	return tag, true
}

// ParseList parses a preference list in priority order, dropping entries that
// do not parse and de-duplicating the rest.
func ParseList(codes []string) []textlang.Tag {
	if len(codes) == 0 {
		return nil
	}
	tags := make([]textlang.Tag, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		tag, ok := Parse(code)
		if !ok {
			continue
		}
		key := tag.String()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// Match returns the index of the candidate code best matching the preferred
// languages, using the x/text matcher so regional variants and macrolanguages
// resolve sensibly (en matches en-US, zh matches cmn). Returns false when no
// candidate is a plausible match for any preference.
func Match(preferred, candidates []string) (int, bool) {
	supported := make([]textlang.Tag, 0, len(candidates))
	indexes := make([]int, 0, len(candidates))
	for i, candidate := range candidates {
		tag, ok := Parse(candidate)
		if !ok {
			continue
		}
		supported = append(supported, tag)
		indexes = append(indexes, i)
	}
	if len(supported) == 0 {
		return 0, false
	}
	desired := ParseList(preferred)
	if len(desired) == 0 {
		return 0, false
	}
	matcher := textlang.NewMatcher(supported)
	_, idx, conf := matcher.Match(desired...)
	if conf == textlang.No {
		return 0, false
	}
	return indexes[idx], true
}

// ToISO2 normalizes any recognized code to its base form, two-letter where
// one exists. Returns empty string for unrecognized input.
func ToISO2(code string) string {
	tag, ok := Parse(code)
	if !ok {
		return ""
	}
	base, conf := tag.Base()
	if conf == textlang.No {
		return ""
	}
	return base.String()
}

// DisplayName returns the English display name for a language code.
// Returns "Unknown" for empty input, or the uppercased code when the code is
// recognized by no one.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Unknown"
	}
	tag, ok := Parse(trimmed)
	if !ok {
		return strings.ToUpper(trimmed)
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return strings.ToUpper(trimmed)
	}
	return name
}
