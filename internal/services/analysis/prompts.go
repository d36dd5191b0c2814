package analysis

// Analysis section names accepted in analysis.sections.
const (
	SectionSummary   = "summary"
	SectionTakeaways = "takeaways"
	SectionKeyPoints = "key_points"
	SectionChapters  = "chapters"
)

// Per-section instructions sent to the configured LLM. Each prompt pins the
// exact JSON shape the section extractor expects. Update this text centrally
// so every call stays in sync.
const summaryPrompt = `You are an assistant that writes a concise summary of a video transcript.

Rules:

- Summarize in 3 to 6 sentences what the video covers and what it concludes.

- Stay factual to the transcript; never invent content that is not present.

- Write plain prose without markdown.

You must respond ONLY with a JSON object like: {"summary": "..."}`

const takeawaysPrompt = `You are an assistant that extracts the key takeaways from a video transcript.

Rules:

- Produce 3 to 7 takeaways, each a single self-contained sentence.

- Order them by importance, most important first.

- Stay factual to the transcript; never invent content that is not present.

You must respond ONLY with a JSON object like: {"takeaways": ["...", "..."]}`

const keyPointsPrompt = `You are an assistant that lists the concrete points made in a video transcript.

Rules:

- Produce 5 to 12 short points in the order they appear in the transcript.

- Each point names one specific claim, step, or fact in a phrase or short sentence.

- Stay factual to the transcript; never invent content that is not present.

You must respond ONLY with a JSON object like: {"key_points": ["...", "..."]}`

const chaptersPrompt = `You are an assistant that splits a video transcript into chapters.

Each transcript line is prefixed with its start time in seconds, like [83.5].
Use those markers for chapter start times.

Rules:

- Produce 3 to 10 chapters covering the whole video, in order.

- start_seconds is the timestamp of the first transcript line belonging to the chapter.

- Keep titles short and descriptive, under 8 words.

You must respond ONLY with a JSON object like: {"chapters": [{"title": "...", "start_seconds": 0}, {"title": "...", "start_seconds": 83.5}]}`

func sectionPrompt(section string) (string, bool) {
	switch section {
	case SectionSummary:
		return summaryPrompt, true
	case SectionTakeaways:
		return takeawaysPrompt, true
	case SectionKeyPoints:
		return keyPointsPrompt, true
	case SectionChapters:
		return chaptersPrompt, true
	default:
		return "", false
	}
}
