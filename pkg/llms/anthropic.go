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

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic Messages API shape: system prompt
// as a top-level field, tools as {name, description, input_schema}, forced
// tool via tool_choice {type:"tool"}, truncation via stop_reason.
type AnthropicProvider struct {
	config     ProviderConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model      string               `json:"model"`
	Messages   []anthropicMessage   `json:"messages"`
	MaxTokens  int                  `json:"max_tokens"`
	Stream     bool                 `json:"stream,omitempty"`
	System     string               `json:"system,omitempty"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      Usage              `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type  string                  `json:"type"`
	Text  string                  `json:"text,omitempty"`
	ID    string                  `json:"id,omitempty"`
	Name  string                  `json:"name,omitempty"`
	Input *map[string]interface{} `json:"input,omitempty"`
}

type anthropicStreamResponse struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120
	}

	return &AnthropicProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) CreateMessage(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("litcritic.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, req.Model),
			attribute.String(observability.AttrLLMProvider, "anthropic"),
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

	if response.Error != nil {
		apiErr := fmt.Errorf("anthropic API error: %s (type: %s)", response.Error.Message, response.Error.Type)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		recordLLMCall(ctx, req.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.InputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "success")
	recordLLMCall(ctx, req.Model, duration, response.Usage.InputTokens, response.Usage.OutputTokens, nil)

	return &ChatResult{
		Text:      text.String(),
		Truncated: response.StopReason == "max_tokens",
		Usage:     response.Usage,
	}, nil
}

func (p *AnthropicProvider) CreateMessageWithTool(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("litcritic.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, req.Model),
			attribute.String(observability.AttrLLMProvider, "anthropic"),
			attribute.String("llm.tool", req.ToolName),
		),
	)
	defer span.End()

	wireReq := p.buildRequest(req.ChatRequest, false)
	wireReq.Tools = []anthropicTool{{
		Name:        req.ToolName,
		Description: req.ToolDescription,
		InputSchema: req.ToolSchema,
	}}
	wireReq.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.ToolName}

	response, err := p.makeRequest(ctx, wireReq)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}

	if response.Error != nil {
		apiErr := fmt.Errorf("anthropic API error: %s (type: %s)", response.Error.Message, response.Error.Type)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		recordLLMCall(ctx, req.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	recordLLMCall(ctx, req.Model, duration, response.Usage.InputTokens, response.Usage.OutputTokens, nil)

	result := &ToolResult{
		Truncated: response.StopReason == "max_tokens",
		Usage:     response.Usage,
	}

	var rawText strings.Builder
	for _, content := range response.Content {
		switch content.Type {
		case "text":
			rawText.WriteString(content.Text)
		case "tool_use":
			if content.Name == req.ToolName && content.Input != nil {
				result.Input = *content.Input
			}
		}
	}
	result.RawText = rawText.String()

	if result.Input == nil && !result.Truncated {
		noToolErr := fmt.Errorf("anthropic response contained no %s tool call", req.ToolName)
		span.RecordError(noToolErr)
		span.SetStatus(codes.Error, "no tool call")
		return nil, noToolErr
	}

	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (p *AnthropicProvider) StreamMessage(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	outputCh := make(chan StreamEvent, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, p.buildRequest(req, true), outputCh); err != nil {
			outputCh <- StreamEvent{Kind: StreamError, Err: err}
		}
	}()

	return outputCh, nil
}

func (p *AnthropicProvider) buildRequest(req ChatRequest, stream bool) anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	return anthropicRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		System:    req.System,
	}
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, jsonData)
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
				return nil, fmt.Errorf("anthropic request failed: %w - response: %s", err, string(body))
			}
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request anthropicRequest, outputCh chan<- StreamEvent) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, jsonData)
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
				return fmt.Errorf("anthropic request failed: %w - response: %s", err, string(body))
			}
		}
		return fmt.Errorf("anthropic request failed: %w", err)
	}

	var (
		text       strings.Builder
		usage      Usage
		stopReason string
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var streamResp anthropicStreamResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &streamResp); err != nil {
			return fmt.Errorf("failed to decode streaming response: %w", err)
		}

		switch streamResp.Type {
		case "message_start":
			if streamResp.Message != nil {
				usage.InputTokens = streamResp.Message.Usage.InputTokens
			}

		case "content_block_delta":
			if streamResp.Delta != nil && streamResp.Delta.Text != "" {
				text.WriteString(streamResp.Delta.Text)
				outputCh <- StreamEvent{Kind: StreamToken, Text: streamResp.Delta.Text}
			}

		case "message_delta":
			if streamResp.Delta != nil && streamResp.Delta.StopReason != "" {
				stopReason = streamResp.Delta.StopReason
			}
			if streamResp.Usage != nil {
				usage.OutputTokens = streamResp.Usage.OutputTokens
			}

		case "message_stop":
			outputCh <- StreamEvent{
				Kind: StreamDone,
				Result: &ChatResult{
					Text:      text.String(),
					Truncated: stopReason == "max_tokens",
					Usage:     usage,
				},
			}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}

	return fmt.Errorf("anthropic stream ended without message_stop")
}

func recordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, model, duration, inputTokens, outputTokens, err)
	}
}

var _ Provider = (*AnthropicProvider)(nil)
