package discussion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"litcritic/pkg/llms"
	"litcritic/pkg/review"
)

type scriptedProvider struct {
	lastChat llms.ChatRequest
	reply    string
	err      error

	streamEvents []llms.StreamEvent
	streamErr    error
}

func (s *scriptedProvider) CreateMessage(_ context.Context, req llms.ChatRequest) (*llms.ChatResult, error) {
	s.lastChat = req
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ChatResult{Text: s.reply}, nil
}

func (s *scriptedProvider) CreateMessageWithTool(context.Context, llms.ToolRequest) (*llms.ToolResult, error) {
	return nil, errors.New("not used in discussion")
}

func (s *scriptedProvider) StreamMessage(_ context.Context, req llms.ChatRequest) (<-chan llms.StreamEvent, error) {
	s.lastChat = req
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan llms.StreamEvent, len(s.streamEvents))
	for _, ev := range s.streamEvents {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptedProvider) Name() string { return "scripted" }
func (s *scriptedProvider) Close() error { return nil }

func discussTestInput() DiscussInput {
	start, end := 10, 14
	return DiscussInput{
		Finding: &review.Finding{
			Number:    2,
			Severity:  review.SeverityMajor,
			Lens:      review.LensContinuity,
			Location:  "the hallway exchange",
			LineStart: &start,
			LineEnd:   &end,
			Evidence:  "the lamp is lit twice",
			Impact:    "breaks the blackout",
			Options:   []string{"cut the second lighting"},
			Status:    review.StatusPending,
		},
		SceneText:   "The hall was dark.\nMira lit the lamp.\n",
		UserMessage: "The second lamp is a different lamp.",
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   2048,
	}
}

func TestDiscussBuildsTurnRequest(t *testing.T) {
	sp := &scriptedProvider{reply: "Which lamp? The text says 'the lamp'. [CONTINUE]"}
	e := NewEngine(sp, nil, 0)

	in := discussTestInput()
	in.PriorOutcomes = "- Finding #1 [major, prose]: Accepted by author"
	in.CondensedTurns = []review.DiscussionTurn{
		{Role: review.TurnUser, Content: "Explain finding 2."},
		{Role: review.TurnAssistant, Content: "The lamp is lit twice."},
	}

	res, err := e.Discuss(context.Background(), in)
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	if res.Status != review.OutcomeContinue {
		t.Errorf("status = %s, want continue", res.Status)
	}
	if !strings.HasPrefix(res.Display, "Which lamp?") || strings.Contains(res.Display, "[CONTINUE]") {
		t.Errorf("display = %q", res.Display)
	}

	req := sp.lastChat
	if !strings.Contains(req.System, "FINDING #2") {
		t.Error("system prompt missing the finding block")
	}
	if !strings.Contains(req.System, "L001: The hall was dark.") {
		t.Error("system prompt missing the numbered scene")
	}
	if !strings.Contains(req.System, "Finding #1") {
		t.Error("system prompt missing prior outcomes")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want condensed turns + new message", len(req.Messages))
	}
	if req.Messages[1].Role != llms.RoleAssistant {
		t.Errorf("turn role = %s, want assistant", req.Messages[1].Role)
	}
	if req.Messages[2].Content != "The second lamp is a different lamp." {
		t.Errorf("new message = %q", req.Messages[2].Content)
	}
}

func TestDiscussSceneEditedPrefixOnlyOnWire(t *testing.T) {
	sp := &scriptedProvider{reply: "Checking the new text. [CONTINUE]"}
	e := NewEngine(sp, nil, 0)

	in := discussTestInput()
	in.SceneChanged = true
	if _, err := e.Discuss(context.Background(), in); err != nil {
		t.Fatalf("Discuss: %v", err)
	}

	last := sp.lastChat.Messages[len(sp.lastChat.Messages)-1]
	if !strings.HasPrefix(last.Content, "[NOTE: scene edited]\n\n") {
		t.Errorf("wire message = %q, want the edited note prefix", last.Content)
	}
	if in.UserMessage != "The second lamp is a different lamp." {
		t.Errorf("input message mutated to %q", in.UserMessage)
	}
}

func TestDiscussProviderError(t *testing.T) {
	sp := &scriptedProvider{err: errors.New("boom")}
	e := NewEngine(sp, nil, 0)

	if _, err := e.Discuss(context.Background(), discussTestInput()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiscussStream(t *testing.T) {
	sp := &scriptedProvider{streamEvents: []llms.StreamEvent{
		{Kind: llms.StreamToken, Text: "Fine, "},
		{Kind: llms.StreamToken, Text: "you win. [CONCEDED]"},
		{Kind: llms.StreamDone, Result: &llms.ChatResult{Text: "Fine, you win. [CONCEDED]"}},
	}}
	e := NewEngine(sp, nil, 0)

	ch, err := e.DiscussStream(context.Background(), discussTestInput())
	if err != nil {
		t.Fatalf("DiscussStream: %v", err)
	}

	var tokens []string
	var done *Result
	for ev := range ch {
		switch ev.Kind {
		case EventToken:
			tokens = append(tokens, ev.Text)
		case EventDone:
			done = ev.Result
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if len(tokens) != 2 || tokens[0] != "Fine, " {
		t.Errorf("tokens = %v", tokens)
	}
	if done == nil {
		t.Fatal("no done event")
	}
	if done.Status != review.OutcomeConceded {
		t.Errorf("status = %s, want conceded", done.Status)
	}
	if done.Display != "Fine, you win." {
		t.Errorf("display = %q", done.Display)
	}
}

func TestDiscussStreamError(t *testing.T) {
	sp := &scriptedProvider{streamEvents: []llms.StreamEvent{
		{Kind: llms.StreamToken, Text: "Half a thou"},
		{Kind: llms.StreamError, Err: errors.New("connection reset")},
	}}
	e := NewEngine(sp, nil, 0)

	ch, err := e.DiscussStream(context.Background(), discussTestInput())
	if err != nil {
		t.Fatalf("DiscussStream: %v", err)
	}

	var sawError bool
	for ev := range ch {
		if ev.Kind == EventError {
			sawError = true
			if ev.Err == nil {
				t.Error("error event without error")
			}
		}
		if ev.Kind == EventDone {
			t.Error("done event after stream error")
		}
	}
	if !sawError {
		t.Error("no error event")
	}
}

func TestDiscussStreamSetupFailure(t *testing.T) {
	sp := &scriptedProvider{streamErr: errors.New("dial tcp: refused")}
	e := NewEngine(sp, nil, 0)

	if _, err := e.DiscussStream(context.Background(), discussTestInput()); err == nil {
		t.Fatal("expected setup error")
	}
}
