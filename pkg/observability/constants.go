package observability

// Span names.
const (
	SpanLLMRequest     = "llm.request"
	SpanAnalysis       = "analysis.run"
	SpanDiscussionTurn = "discussion.turn"
	SpanHTTPRequest    = "http.request"
)

// Attribute keys.
const (
	AttrLLMModel        = "llm.model"
	AttrLLMProvider     = "llm.provider"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrHTTPMethod      = "http.method"
	AttrHTTPRoute       = "http.route"
	AttrHTTPStatus      = "http.status_code"
)
