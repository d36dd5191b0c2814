package transcript

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	textlang "golang.org/x/text/language"

	"lectern/internal/textutil"
)

// ExchangeKey is where the transcript source publishes its Document for the
// other sources of the same run.
const ExchangeKey = "transcript.document"

// Document is the normalized transcript shared with downstream sources.
type Document struct {
	EntityID        string
	Title           string
	Channel         string
	Language        string
	Kind            string
	DurationSeconds float64
	Cues            []Cue
}

// Text returns the cue text joined into one prose block.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Cues))
	for _, cue := range d.Cues {
		if cue.Text != "" {
			parts = append(parts, cue.Text)
		}
	}
	return strings.Join(parts, " ")
}

// TimedText renders the cues as "[123.4] line" rows for prompts that need
// timestamps, such as chapter generation.
func (d *Document) TimedText() string {
	var b strings.Builder
	for _, cue := range d.Cues {
		if cue.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%.1f] %s\n", cue.Start, cue.Text)
	}
	return b.String()
}

// WordCount returns the number of whitespace-separated words across all cues.
func (d *Document) WordCount() int {
	count := 0
	for _, cue := range d.Cues {
		count += len(strings.Fields(cue.Text))
	}
	return count
}

// duplicateSimilarity is the cosine threshold above which adjacent cues are
// treated as the same rolling caption line.
const duplicateSimilarity = 0.9

// NormalizeCues trims and collapses cue text, drops empty cues, sorts by
// start time, and merges adjacent near-duplicates. Auto-generated captions
// repeat lines as they scroll through the display window; merging keeps one
// copy spanning the combined time range.
func NormalizeCues(cues []Cue) []Cue {
	cleaned := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		text := strings.Join(strings.Fields(cue.Text), " ")
		if text == "" {
			continue
		}
		cue.Text = text
		cleaned = append(cleaned, cue)
	}
	slices.SortStableFunc(cleaned, func(a, b Cue) int {
		return cmp.Compare(a.Start, b.Start)
	})

	out := make([]Cue, 0, len(cleaned))
	for _, cue := range cleaned {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if duplicateCue(prev.Text, cue.Text) {
				if cue.End > prev.End {
					prev.End = cue.End
				}
				if len(cue.Text) > len(prev.Text) {
					prev.Text = cue.Text
				}
				continue
			}
		}
		out = append(out, cue)
	}
	return out
}

func duplicateCue(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	fa := textutil.NewFingerprint(a)
	fb := textutil.NewFingerprint(b)
	if fa == nil || fb == nil {
		return false
	}
	return textutil.CosineSimilarity(fa, fb) >= duplicateSimilarity
}

// DisplayTitle collapses whitespace and rewrites shouting-case provider
// titles into title case. Mixed-case titles pass through untouched.
func DisplayTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	if title == strings.ToUpper(title) && title != strings.ToLower(title) {
		return cases.Title(textlang.Und).String(title)
	}
	return title
}
