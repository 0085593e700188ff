package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"litcritic/pkg/httpclient"
	"litcritic/pkg/observability"
)

// OpenAIProvider speaks the chat-completions API shape: system prompt as a
// system-role message, tools as {type:"function", function:{...}}, forced
// tool via tool_choice {type:"function"}, tool arguments as a JSON string,
// truncation via finish_reason.
type OpenAIProvider struct {
	config     ProviderConfig
	httpClient *httpclient.Client
}

type openaiRequest struct {
	Model         string              `json:"model"`
	Messages      []openaiMessage     `json:"messages"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	StreamOptions *openaiStreamOpts   `json:"stream_options,omitempty"`
	Tools         []openaiTool        `json:"tools,omitempty"`
	ToolChoice    *openaiForcedChoice `json:"tool_choice,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openaiForcedChoice struct {
	Type     string               `json:"type"`
	Function openaiChoiceFunction `json:"function"`
}

type openaiChoiceFunction struct {
	Name string `json:"name"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openaiChoiceMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiStreamResponse struct {
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openaiDelta struct {
	Content string `json:"content,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120
	}

	return &OpenAIProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) CreateMessage(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("litcritic.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, req.Model),
			attribute.String(observability.AttrLLMProvider, "openai"),
		),
	)
	defer span.End()

	response, err := p.makeRequest(ctx, p.buildRequest(req, false))
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}

	choice, err := firstChoice(response)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "success")
	recordLLMCall(ctx, req.Model, duration, response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)

	return &ChatResult{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == "length",
		Usage:     usageFromOpenAI(response.Usage),
	}, nil
}

func (p *OpenAIProvider) CreateMessageWithTool(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("litcritic.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, req.Model),
			attribute.String(observability.AttrLLMProvider, "openai"),
			attribute.String("llm.tool", req.ToolName),
		),
	)
	defer span.End()

	wireReq := p.buildRequest(req.ChatRequest, false)
	wireReq.Tools = []openaiTool{{
		Type: "function",
		Function: openaiToolFunction{
			Name:        req.ToolName,
			Description: req.ToolDescription,
			Parameters:  req.ToolSchema,
		},
	}}
	wireReq.ToolChoice = &openaiForcedChoice{
		Type:     "function",
		Function: openaiChoiceFunction{Name: req.ToolName},
	}

	response, err := p.makeRequest(ctx, wireReq)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}

	choice, err := firstChoice(response)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}

	recordLLMCall(ctx, req.Model, duration, response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)

	result := &ToolResult{
		RawText:   choice.Message.Content,
		Truncated: choice.FinishReason == "length",
		Usage:     usageFromOpenAI(response.Usage),
	}

	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name != req.ToolName {
			continue
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			// Truncated arguments are not valid JSON; report truncation
			// rather than a parse failure so callers retry appropriately.
			if result.Truncated {
				return result, nil
			}
			parseErr := fmt.Errorf("failed to parse tool arguments: %w", err)
			span.RecordError(parseErr)
			span.SetStatus(codes.Error, "bad tool arguments")
			return nil, parseErr
		}
		result.Input = args
		break
	}

	if result.Input == nil && !result.Truncated {
		noToolErr := fmt.Errorf("openai response contained no %s tool call", req.ToolName)
		span.RecordError(noToolErr)
		span.SetStatus(codes.Error, "no tool call")
		return nil, noToolErr
	}

	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (p *OpenAIProvider) StreamMessage(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	outputCh := make(chan StreamEvent, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, p.buildRequest(req, true), outputCh); err != nil {
			outputCh <- StreamEvent{Kind: StreamError, Err: err}
		}
	}()

	return outputCh, nil
}

func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) openaiRequest {
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}

	wireReq := openaiRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if stream {
		wireReq.StreamOptions = &openaiStreamOpts{IncludeUsage: true}
	}
	return wireReq
}

func (p *OpenAIProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	return req, nil
}

// parseErrorResponse extracts error detail from an API error body.
func parseErrorResponse(body []byte) *openaiError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openaiRequest) (*openaiResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, requestBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			if body, readErr := io.ReadAll(resp.Body); readErr == nil && len(body) > 0 {
				if apiErr := parseErrorResponse(body); apiErr != nil {
					return nil, fmt.Errorf("openai request failed: %s (type: %s, code: %s): %w",
						apiErr.Message, apiErr.Type, apiErr.Code, err)
				}
				return nil, fmt.Errorf("openai request failed: %w - response: %s", err, string(body))
			}
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("openai API error: %s (type: %s)", response.Error.Message, response.Error.Type)
	}

	return &response, nil
}

func firstChoice(response *openaiResponse) (*openaiChoice, error) {
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	return &response.Choices[0], nil
}

func usageFromOpenAI(u openaiUsage) Usage {
	return Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openaiRequest, outputCh chan<- StreamEvent) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, requestBody)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			if body, readErr := io.ReadAll(resp.Body); readErr == nil && len(body) > 0 {
				if apiErr := parseErrorResponse(body); apiErr != nil {
					return fmt.Errorf("openai request failed: %s (type: %s, code: %s): %w",
						apiErr.Message, apiErr.Type, apiErr.Code, err)
				}
				return fmt.Errorf("openai request failed: %w - response: %s", err, string(body))
			}
		}
		return fmt.Errorf("openai request failed: %w", err)
	}

	var (
		text         strings.Builder
		usage        Usage
		finishReason string
	)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openaiStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return fmt.Errorf("openai API error: %s", streamResp.Error.Message)
		}

		if streamResp.Usage != nil {
			usage = usageFromOpenAI(*streamResp.Usage)
		}

		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			outputCh <- StreamEvent{Kind: StreamToken, Text: choice.Delta.Content}
		}
	}

	outputCh <- StreamEvent{
		Kind: StreamDone,
		Result: &ChatResult{
			Text:      text.String(),
			Truncated: finishReason == "length",
			Usage:     usage,
		},
	}
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
