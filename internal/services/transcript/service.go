package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"lectern/internal/config"
	"lectern/internal/language"
	"lectern/internal/logging"
	"lectern/internal/runner"
	"lectern/internal/services"
	"lectern/internal/stream"
)

// Service implements the transcript source: it fetches caption tracks from
// the provider, selects the best one for the configured languages, and
// normalizes the cues into a Document.
type Service struct {
	cfg    config.Transcript
	client *Client
	logger *slog.Logger
}

// NewService builds the transcript source handler. The client may be nil when
// no provider is configured; Prepare and HealthCheck report that state.
func NewService(cfg config.Transcript, client *Client, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "transcript"),
	}
}

// Source returns the stream tag this handler emits under.
func (s *Service) Source() stream.Source {
	return stream.SourceTranscript
}

// Prepare validates that the handler can run at all before the run starts.
func (s *Service) Prepare(ctx context.Context, req runner.Request) error {
	if s.client == nil {
		return services.Wrap(services.ErrConfiguration, "transcript", "prepare", "transcript.base_url is not configured", nil)
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return services.Wrap(services.ErrValidation, "transcript", "prepare", "entity id required", nil)
	}
	return nil
}

// Execute fetches and normalizes the transcript, publishes the Document on
// the run's exchange, and returns the artifact fragment.
func (s *Service) Execute(ctx context.Context, req runner.Request, em *runner.Emitter) (json.RawMessage, error) {
	doc, err := s.fetch(ctx, req.EntityID, em)
	if err != nil {
		return nil, err
	}
	if req.Exchange != nil {
		req.Exchange.Publish(ExchangeKey, doc)
	}
	return json.Marshal(map[string]documentPayload{"transcript": payloadFor(doc)})
}

// Fetch retrieves and normalizes the transcript without emitting stream
// events. The analysis source uses it when a run does not include the
// transcript source itself.
func (s *Service) Fetch(ctx context.Context, entityID string) (*Document, error) {
	if s.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcript", "fetch", "transcript.base_url is not configured", nil)
	}
	return s.fetch(ctx, entityID, nil)
}

// HealthCheck reports whether the provider connection is configured.
// Reachability probing happens in preflight, not on the status path.
func (s *Service) HealthCheck(ctx context.Context) runner.Health {
	if s.client == nil {
		return runner.Unhealthy("transcript", "transcript.base_url is not configured")
	}
	return runner.Healthy("transcript")
}

func (s *Service) fetch(ctx context.Context, entityID string, em *runner.Emitter) (*Document, error) {
	progress := func(phase, message string, percent float64) {
		if em != nil {
			em.ProgressAt(phase, message, percent)
		}
	}

	progress("metadata", "fetching video metadata", 5)
	meta, err := s.client.Metadata(ctx, entityID)
	if err != nil {
		return nil, err
	}
	title := DisplayTitle(meta.Title)

	progress("tracks", "listing caption tracks", 20)
	tracks, err := s.client.Tracks(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "transcript", "tracks",
			fmt.Sprintf("no caption tracks for %s", entityID), nil)
	}

	track, ok := SelectTrack(tracks, s.cfg.Languages, s.cfg.PreferManual)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "transcript", "tracks",
			fmt.Sprintf("no caption track matches languages %s", strings.Join(s.cfg.Languages, ", ")), nil)
	}
	lang := language.ToISO2(track.Language)
	if lang == "" {
		lang = strings.ToLower(strings.TrimSpace(track.Language))
	}

	if em != nil {
		header := documentPayload{
			Title:        title,
			Channel:      strings.TrimSpace(meta.Channel),
			Language:     lang,
			LanguageName: language.DisplayName(track.Language),
			Kind:         trackKind(track),
		}
		if err := em.Partial(map[string]documentPayload{"transcript": header}); err != nil {
			return nil, err
		}
	}

	progress("cues", fmt.Sprintf("fetching %s cues", language.DisplayName(track.Language)), 40)
	cues, err := s.client.Cues(ctx, entityID, track.ID)
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "transcript", "cues",
			fmt.Sprintf("caption track %s has no cues", track.ID), nil)
	}

	progress("normalize", "normalizing cues", 75)
	normalized := NormalizeCues(cues)

	doc := &Document{
		EntityID:        entityID,
		Title:           title,
		Channel:         strings.TrimSpace(meta.Channel),
		Language:        lang,
		Kind:            trackKind(track),
		DurationSeconds: meta.DurationSeconds,
		Cues:            normalized,
	}
	s.logger.Info("transcript ready",
		logging.String(logging.FieldEntityID, entityID),
		logging.String("track", track.ID),
		logging.String("language", doc.Language),
		logging.String("kind", doc.Kind),
		logging.Int("cues", len(doc.Cues)),
		logging.Int("raw_cues", len(cues)),
		logging.Int("words", doc.WordCount()),
	)
	progress("normalize", "transcript ready", 95)
	return doc, nil
}

func trackKind(track Track) string {
	if track.IsManual() {
		return KindManual
	}
	return KindAuto
}

type documentPayload struct {
	Title           string  `json:"title"`
	Channel         string  `json:"channel,omitempty"`
	Language        string  `json:"language"`
	LanguageName    string  `json:"language_name,omitempty"`
	Kind            string  `json:"kind"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	CueCount        int     `json:"cue_count,omitempty"`
	WordCount       int     `json:"word_count,omitempty"`
	Text            string  `json:"text,omitempty"`
}

func payloadFor(doc *Document) documentPayload {
	return documentPayload{
		Title:           doc.Title,
		Channel:         doc.Channel,
		Language:        doc.Language,
		LanguageName:    language.DisplayName(doc.Language),
		Kind:            doc.Kind,
		DurationSeconds: doc.DurationSeconds,
		CueCount:        len(doc.Cues),
		WordCount:       doc.WordCount(),
		Text:            doc.Text(),
	}
}
