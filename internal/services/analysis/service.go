package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/runner"
	"lectern/internal/services"
	"lectern/internal/services/transcript"
	"lectern/internal/stream"
)

const truncationNotice = "\n[transcript truncated]"

// Completer is the slice of the LLM client the analysis source depends on.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// DocumentFetcher retrieves a transcript for runs that do not include the
// transcript source themselves.
type DocumentFetcher interface {
	Fetch(ctx context.Context, entityID string) (*transcript.Document, error)
}

// Service implements the analysis source: it feeds the transcript to the LLM
// once per configured section and emits each section as a partial fragment
// before returning the consolidated payload.
type Service struct {
	cfg    config.Analysis
	llm    Completer
	docs   DocumentFetcher
	logger *slog.Logger
}

// NewService builds the analysis source handler. completer may be nil when no
// LLM API key is configured; docs may be nil when no transcript provider is
// configured, in which case runs must include the transcript source.
func NewService(cfg config.Analysis, completer Completer, docs DocumentFetcher, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		llm:    completer,
		docs:   docs,
		logger: logging.NewComponentLogger(logger, "analysis"),
	}
}

// Source returns the stream tag this handler emits under.
func (s *Service) Source() stream.Source {
	return stream.SourceAnalysis
}

// Prepare validates configuration before the run starts.
func (s *Service) Prepare(ctx context.Context, req runner.Request) error {
	if !s.cfg.Enabled {
		return services.Wrap(services.ErrConfiguration, "analysis", "prepare", "analysis is disabled (analysis.enabled = false)", nil)
	}
	if s.llm == nil {
		return services.Wrap(services.ErrConfiguration, "analysis", "prepare", "llm api key is not configured (set llm.api_key or OPENROUTER_API_KEY)", nil)
	}
	if len(s.cfg.Sections) == 0 {
		return services.Wrap(services.ErrConfiguration, "analysis", "prepare", "analysis.sections is empty", nil)
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return services.Wrap(services.ErrValidation, "analysis", "prepare", "entity id required", nil)
	}
	if !req.HasSource(stream.SourceTranscript) && s.docs == nil {
		return services.Wrap(services.ErrConfiguration, "analysis", "prepare", "run needs the transcript source or a configured transcript provider", nil)
	}
	return nil
}

// Execute generates every configured section in order. Each section becomes
// one partial fragment; the returned payload carries all of them keyed by
// section name so the merged artifact exposes the sections at the top level.
func (s *Service) Execute(ctx context.Context, req runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	em.ProgressAt("transcript", "waiting for transcript", 5)
	doc, err := s.obtainDocument(ctx, req)
	if err != nil {
		return nil, err
	}
	em.ProgressAt("transcript", "transcript ready", 10)

	plain, plainTruncated := truncateTranscript(doc.Text(), s.cfg.MaxTranscriptChars)
	timed, timedTruncated := truncateTranscript(doc.TimedText(), s.cfg.MaxTranscriptChars)
	if plainTruncated || timedTruncated {
		s.logger.Warn("transcript truncated for analysis",
			logging.String(logging.FieldEntityID, req.EntityID),
			logging.Int("max_chars", s.cfg.MaxTranscriptChars),
			logging.Int("words", doc.WordCount()),
		)
	}

	sections := s.cfg.Sections
	consolidated := make(map[string]json.RawMessage, len(sections))
	for i, section := range sections {
		percent := 15 + 80*float64(i)/float64(len(sections))
		em.ProgressAt(section, "generating "+sectionLabel(section), percent)

		body := plain
		if section == SectionChapters {
			body = timed
		}
		value, err := s.generateSection(ctx, section, doc, body)
		if err != nil {
			return nil, err
		}
		if err := em.Partial(map[string]json.RawMessage{section: value}); err != nil {
			return nil, err
		}
		consolidated[section] = value
	}
	em.ProgressAt("consolidate", "analysis sections ready", 95)

	s.logger.Info("analysis ready",
		logging.String(logging.FieldEntityID, req.EntityID),
		logging.Int("sections", len(sections)),
		logging.Int("transcript_chars", len(plain)),
	)
	return json.Marshal(consolidated)
}

// HealthCheck reports whether the source is configured to run. The LLM
// reachability probe happens in preflight, not on the status path.
func (s *Service) HealthCheck(ctx context.Context) runner.Health {
	if !s.cfg.Enabled {
		return runner.Unhealthy("analysis", "analysis.enabled is false")
	}
	if s.llm == nil {
		return runner.Unhealthy("analysis", "llm api key is not configured")
	}
	return runner.Healthy("analysis")
}

// obtainDocument waits for the transcript source over the run's exchange when
// the run includes it, and otherwise fetches the transcript directly.
func (s *Service) obtainDocument(ctx context.Context, req runner.Request) (*transcript.Document, error) {
	if req.HasSource(stream.SourceTranscript) && req.Exchange != nil {
		value, err := req.Exchange.Await(ctx, transcript.ExchangeKey)
		if err != nil {
			return nil, err
		}
		doc, ok := value.(*transcript.Document)
		if !ok {
			return nil, fmt.Errorf("analysis: unexpected exchange payload %T", value)
		}
		return doc, nil
	}
	if s.docs == nil {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "transcript", "no transcript provider configured", nil)
	}
	return s.docs.Fetch(ctx, req.EntityID)
}

func (s *Service) generateSection(ctx context.Context, section string, doc *transcript.Document, body string) (json.RawMessage, error) {
	prompt, ok := sectionPrompt(section)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "analysis", section, fmt.Sprintf("unknown analysis section %q", section), nil)
	}
	content, err := s.llm.CompleteJSON(ctx, prompt, userPrompt(doc, body))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", section, sectionLabel(section)+" generation failed", err)
	}
	value, err := extractSectionValue(section, content)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "analysis", section, "llm returned an unusable payload", err)
	}
	return value, nil
}

func userPrompt(doc *transcript.Document, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video: %s\n", doc.Title)
	if doc.Channel != "" {
		fmt.Fprintf(&b, "Channel: %s\n", doc.Channel)
	}
	if doc.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", doc.Language)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(body)
	return b.String()
}

func sectionLabel(section string) string {
	return strings.ReplaceAll(section, "_", " ")
}

// truncateTranscript caps the body at limit runes so oversized transcripts do
// not blow the model's context window.
func truncateTranscript(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]) + truncationNotice, true
}
