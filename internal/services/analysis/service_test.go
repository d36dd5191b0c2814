package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"lectern/internal/config"
	"lectern/internal/runner"
	"lectern/internal/services"
	"lectern/internal/services/transcript"
	"lectern/internal/stream"
)

type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	prompts   map[string]string
	err       error
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	section := sectionForPrompt(systemPrompt)
	f.mu.Lock()
	if f.prompts == nil {
		f.prompts = make(map[string]string)
	}
	f.prompts[section] = userPrompt
	f.mu.Unlock()
	response, ok := f.responses[section]
	if !ok {
		return "", fmt.Errorf("no canned response for section %q", section)
	}
	return response, nil
}

func (f *fakeCompleter) promptFor(section string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[section]
}

func sectionForPrompt(systemPrompt string) string {
	for _, section := range []string{SectionSummary, SectionTakeaways, SectionKeyPoints, SectionChapters} {
		if prompt, ok := sectionPrompt(section); ok && prompt == systemPrompt {
			return section
		}
	}
	return ""
}

type staticFetcher struct {
	doc   *transcript.Document
	calls int
}

func (f *staticFetcher) Fetch(ctx context.Context, entityID string) (*transcript.Document, error) {
	f.calls++
	return f.doc, nil
}

func testDocument() *transcript.Document {
	return &transcript.Document{
		EntityID:        "vid-1",
		Title:           "Hunting Goroutine Leaks",
		Channel:         "Gopher Talks",
		Language:        "en",
		Kind:            transcript.KindManual,
		DurationSeconds: 300,
		Cues: []transcript.Cue{
			{Start: 0, End: 12, Text: "Welcome back, today we hunt goroutine leaks."},
			{Start: 12, End: 80, Text: "First we instrument the scheduler with pprof labels."},
			{Start: 80, End: 200, Text: "Then we fix the leak by closing the done channel."},
		},
	}
}

func testAnalysisConfig(sections ...string) config.Analysis {
	return config.Analysis{Enabled: true, Sections: sections, MaxTranscriptChars: 60000}
}

func analysisRequest(sources ...stream.Source) runner.Request {
	return runner.Request{
		EntityID: "vid-1",
		RunToken: "run-1",
		Sources:  sources,
		Exchange: runner.NewExchange(),
	}
}

func TestServiceExecuteEmitsPartialPerSection(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionSummary:   `{"summary": "Covers finding and fixing goroutine leaks."}`,
		SectionTakeaways: "```json\n{\"takeaways\": [\"Instrument with pprof labels\", \"Close the done channel\"]}\n```",
	}}
	fetcher := &staticFetcher{doc: testDocument()}
	svc := NewService(testAnalysisConfig(SectionSummary, SectionTakeaways), completer, fetcher, nil)

	hub := runner.NewHub()
	em := runner.NewEmitter(hub, stream.SourceAnalysis)
	payload, err := svc.Execute(context.Background(), analysisRequest(stream.SourceAnalysis), em)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}

	var consolidated map[string]json.RawMessage
	if err := json.Unmarshal(payload, &consolidated); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	var summary string
	if err := json.Unmarshal(consolidated[SectionSummary], &summary); err != nil || summary == "" {
		t.Fatalf("unexpected summary %s (%v)", consolidated[SectionSummary], err)
	}
	var takeaways []string
	if err := json.Unmarshal(consolidated[SectionTakeaways], &takeaways); err != nil || len(takeaways) != 2 {
		t.Fatalf("unexpected takeaways %s (%v)", consolidated[SectionTakeaways], err)
	}

	var partials int
	for _, env := range hub.Snapshot() {
		switch env.Type {
		case stream.EventPartial:
			partials++
			var fragment map[string]json.RawMessage
			if err := json.Unmarshal(env.Data, &fragment); err != nil {
				t.Fatalf("unmarshal partial: %v", err)
			}
			if len(fragment) != 1 {
				t.Fatalf("expected one section per partial, got %d", len(fragment))
			}
		case stream.EventComplete, stream.EventError:
			t.Fatalf("source handler must not emit terminals, saw %s", env.Type)
		}
	}
	if partials != 2 {
		t.Fatalf("expected one partial per section, got %d", partials)
	}
}

func TestServiceExecuteAwaitsSharedTranscript(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionSummary: `{"summary": "Covers goroutine leak hunting."}`,
	}}
	svc := NewService(testAnalysisConfig(SectionSummary), completer, nil, nil)

	req := analysisRequest(stream.SourceTranscript, stream.SourceAnalysis)
	req.Exchange.Publish(transcript.ExchangeKey, testDocument())

	em := runner.NewEmitter(runner.NewHub(), stream.SourceAnalysis)
	if _, err := svc.Execute(context.Background(), req, em); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	prompt := completer.promptFor(SectionSummary)
	if !strings.Contains(prompt, "Video: Hunting Goroutine Leaks") {
		t.Fatalf("prompt missing video header: %q", prompt)
	}
	if !strings.Contains(prompt, "pprof labels") {
		t.Fatalf("prompt missing transcript body: %q", prompt)
	}
}

func TestServiceExecuteAcceptsRenamedSingleKey(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionKeyPoints: `{"points": ["instrument the scheduler", "close the done channel"]}`,
	}}
	svc := NewService(testAnalysisConfig(SectionKeyPoints), completer, &staticFetcher{doc: testDocument()}, nil)

	em := runner.NewEmitter(runner.NewHub(), stream.SourceAnalysis)
	payload, err := svc.Execute(context.Background(), analysisRequest(stream.SourceAnalysis), em)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var consolidated map[string][]string
	if err := json.Unmarshal(payload, &consolidated); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if points := consolidated[SectionKeyPoints]; len(points) != 2 {
		t.Fatalf("expected renamed key adopted as key_points, got %v", consolidated)
	}
}

func TestServiceExecuteChaptersOrderedAndTimed(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionChapters: `{"chapters": [
			{"title": "Fixing the leak", "start_seconds": 80},
			{"title": "   ", "start_seconds": 5},
			{"title": "Intro", "start_seconds": 0}
		]}`,
	}}
	svc := NewService(testAnalysisConfig(SectionChapters), completer, &staticFetcher{doc: testDocument()}, nil)

	em := runner.NewEmitter(runner.NewHub(), stream.SourceAnalysis)
	payload, err := svc.Execute(context.Background(), analysisRequest(stream.SourceAnalysis), em)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var consolidated map[string][]Chapter
	if err := json.Unmarshal(payload, &consolidated); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	chapters := consolidated[SectionChapters]
	if len(chapters) != 2 {
		t.Fatalf("expected untitled chapter dropped, got %v", chapters)
	}
	if chapters[0].Title != "Intro" || chapters[1].Title != "Fixing the leak" {
		t.Fatalf("expected chapters sorted by start, got %v", chapters)
	}

	if prompt := completer.promptFor(SectionChapters); !strings.Contains(prompt, "[80.0]") {
		t.Fatalf("chapters prompt missing time markers: %q", prompt)
	}
}

func TestServiceExecuteFailsOnEmptySection(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionSummary: `{"summary": "   "}`,
	}}
	svc := NewService(testAnalysisConfig(SectionSummary), completer, &staticFetcher{doc: testDocument()}, nil)

	em := runner.NewEmitter(runner.NewHub(), stream.SourceAnalysis)
	_, err := svc.Execute(context.Background(), analysisRequest(stream.SourceAnalysis), em)
	if err == nil {
		t.Fatal("expected empty summary to fail")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
}

func TestServiceExecuteTruncatesTranscript(t *testing.T) {
	completer := &fakeCompleter{responses: map[string]string{
		SectionSummary: `{"summary": "Short."}`,
	}}
	cfg := testAnalysisConfig(SectionSummary)
	cfg.MaxTranscriptChars = 40
	svc := NewService(cfg, completer, &staticFetcher{doc: testDocument()}, nil)

	em := runner.NewEmitter(runner.NewHub(), stream.SourceAnalysis)
	if _, err := svc.Execute(context.Background(), analysisRequest(stream.SourceAnalysis), em); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if prompt := completer.promptFor(SectionSummary); !strings.Contains(prompt, truncationNotice) {
		t.Fatalf("prompt missing truncation notice: %q", prompt)
	}
}

func TestServicePrepareValidation(t *testing.T) {
	doc := &staticFetcher{doc: testDocument()}
	completer := &fakeCompleter{responses: map[string]string{}}

	tests := []struct {
		name    string
		service *Service
		req     runner.Request
		marker  error
	}{
		{
			name:    "disabled",
			service: NewService(config.Analysis{Sections: []string{SectionSummary}}, completer, doc, nil),
			req:     analysisRequest(stream.SourceAnalysis),
			marker:  services.ErrConfiguration,
		},
		{
			name:    "no completer",
			service: NewService(testAnalysisConfig(SectionSummary), nil, doc, nil),
			req:     analysisRequest(stream.SourceAnalysis),
			marker:  services.ErrConfiguration,
		},
		{
			name:    "no sections",
			service: NewService(testAnalysisConfig(), completer, doc, nil),
			req:     analysisRequest(stream.SourceAnalysis),
			marker:  services.ErrConfiguration,
		},
		{
			name:    "empty entity",
			service: NewService(testAnalysisConfig(SectionSummary), completer, doc, nil),
			req:     runner.Request{Sources: []stream.Source{stream.SourceAnalysis}},
			marker:  services.ErrValidation,
		},
		{
			name:    "no transcript path",
			service: NewService(testAnalysisConfig(SectionSummary), completer, nil, nil),
			req:     analysisRequest(stream.SourceAnalysis),
			marker:  services.ErrConfiguration,
		},
		{
			name:    "transcript source in run",
			service: NewService(testAnalysisConfig(SectionSummary), completer, nil, nil),
			req:     analysisRequest(stream.SourceTranscript, stream.SourceAnalysis),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.service.Prepare(context.Background(), tc.req)
			if tc.marker == nil {
				if err != nil {
					t.Fatalf("expected prepare to pass, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}
