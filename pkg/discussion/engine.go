package discussion

import (
	"context"
	"strings"
	"time"

	"litcritic/pkg/llms"
	"litcritic/pkg/observability"
	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
)

const defaultTurnTimeout = 120 * time.Second

// sceneEditedNote is prepended to the API-side copy of the author's message
// when the scene changed since the last turn. The persisted turn stays
// unprefixed.
const sceneEditedNote = "[NOTE: scene edited]\n\n"

// Stream event kinds.
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one event from DiscussStream: token events carry reply text
// as it arrives, then exactly one done (Result set) or error (Err set).
type StreamEvent struct {
	Kind   string
	Text   string
	Result *Result
	Err    error
}

// DiscussInput is one author turn. CondensedTurns is the prior dialogue
// already trimmed to the model's context budget; PriorOutcomes is the
// cross-finding summary, empty on the session's first discussed finding.
type DiscussInput struct {
	Finding        *review.Finding
	SceneText      string
	PriorOutcomes  string
	CondensedTurns []review.DiscussionTurn
	UserMessage    string
	SceneChanged   bool
	Model          string
	MaxTokens      int
}

// Engine drives discussion turns against one provider client.
type Engine struct {
	provider llms.Provider
	builder  prompt.Builder
	timeout  time.Duration
}

// NewEngine builds an engine. A nil builder gets the default templates; a
// non-positive timeout gets the default turn timeout.
func NewEngine(provider llms.Provider, builder prompt.Builder, timeout time.Duration) *Engine {
	if builder == nil {
		builder = prompt.New()
	}
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	return &Engine{provider: provider, builder: builder, timeout: timeout}
}

// Discuss runs one blocking discussion turn and parses the critic's reply.
func (e *Engine) Discuss(ctx context.Context, in DiscussInput) (*Result, error) {
	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.provider.CreateMessage(tctx, e.buildRequest(in))
	if err != nil {
		e.recordTurn(ctx, "error")
		return nil, err
	}
	res := Parse(out.Text)
	e.recordTurn(ctx, res.Status)
	return &res, nil
}

// DiscussStream runs one discussion turn streaming: token events as the
// reply arrives, then a done event carrying the parsed result. Tags stream
// through raw; callers that care render Result.Display from the done event.
func (e *Engine) DiscussStream(ctx context.Context, in DiscussInput) (<-chan StreamEvent, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	src, err := e.provider.StreamMessage(sctx, e.buildRequest(in))
	if err != nil {
		cancel()
		e.recordTurn(ctx, "error")
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer cancel()
		defer close(out)
		var full strings.Builder
		for ev := range src {
			switch ev.Kind {
			case llms.StreamToken:
				full.WriteString(ev.Text)
				out <- StreamEvent{Kind: EventToken, Text: ev.Text}
			case llms.StreamError:
				e.recordTurn(ctx, "error")
				out <- StreamEvent{Kind: EventError, Err: ev.Err}
				return
			case llms.StreamDone:
				text := full.String()
				if ev.Result != nil && ev.Result.Text != "" {
					text = ev.Result.Text
				}
				res := Parse(text)
				e.recordTurn(ctx, res.Status)
				out <- StreamEvent{Kind: EventDone, Result: &res}
				return
			}
		}
		// Source closed without a done event; parse what arrived.
		res := Parse(full.String())
		e.recordTurn(ctx, res.Status)
		out <- StreamEvent{Kind: EventDone, Result: &res}
	}()
	return out, nil
}

func (e *Engine) buildRequest(in DiscussInput) llms.ChatRequest {
	system := e.builder.BuildDiscussionSystem(in.Finding, prompt.NumberLines(in.SceneText), in.PriorOutcomes)

	msgs := make([]llms.Message, 0, len(in.CondensedTurns)+1)
	for _, t := range in.CondensedTurns {
		role := llms.RoleUser
		if t.Role == review.TurnAssistant {
			role = llms.RoleAssistant
		}
		msgs = append(msgs, llms.Message{Role: role, Content: t.Content})
	}

	userMsg := in.UserMessage
	if in.SceneChanged {
		userMsg = sceneEditedNote + userMsg
	}
	msgs = append(msgs, llms.Message{Role: llms.RoleUser, Content: userMsg})

	return llms.ChatRequest{
		Model:     in.Model,
		System:    system,
		Messages:  msgs,
		MaxTokens: in.MaxTokens,
	}
}

func (e *Engine) recordTurn(ctx context.Context, outcome string) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordDiscussionTurn(ctx, outcome)
	}
}
