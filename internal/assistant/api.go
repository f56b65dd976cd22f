package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ccbridge/ccbridge/internal/telemetry"
)

const (
	defaultModel        = "claude-sonnet-4-5"
	defaultMaxTokens    = 4096
	defaultHistoryTurns = 20
	apiRetryMaxElapsed  = 30 * time.Second
	aiScopeName         = "github.com/ccbridge/ccbridge/assistant"
)

// APIOptions configures APIBackend.
type APIOptions struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	HistoryTurns int
	SystemPrompt string

	// ClientOptions are appended to the Anthropic client options (base URL in tests).
	ClientOptions []option.RequestOption
	// RetryMaxElapsed bounds retries of transient API errors. Zero means 30s.
	RetryMaxElapsed time.Duration
}

// APIBackend answers with the Anthropic Messages API, replaying the most
// recent turns of the conversation as history.
type APIBackend struct {
	client anthropic.Client
	opts   APIOptions
}

// NewAPIBackend creates an API backend.
func NewAPIBackend(opts APIOptions) *APIBackend {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = apiRetryMaxElapsed
	}
	clientOpts := append([]option.RequestOption{option.WithAPIKey(opts.APIKey)}, opts.ClientOptions...)
	aiMetricsOnce.Do(initAIMetrics)
	return &APIBackend{
		client: anthropic.NewClient(clientOpts...),
		opts:   opts,
	}
}

// Name implements Backend.
func (b *APIBackend) Name() string { return "api" }

func (b *APIBackend) params(req Request) anthropic.MessageNewParams {
	turns := req.Conversation.Turns
	if len(turns) > b.opts.HistoryTurns {
		turns = turns[len(turns)-b.opts.HistoryTurns:]
	}
	msgs := make([]anthropic.MessageParam, 0, 2*len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs,
			anthropic.NewUserMessage(anthropic.NewTextBlock(t.Prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Reply)),
		)
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.opts.Model),
		MaxTokens: b.opts.MaxTokens,
		Messages:  msgs,
	}
	if b.opts.SystemPrompt != "" {
		p.System = []anthropic.TextBlockParam{{Text: b.opts.SystemPrompt}}
	}
	return p
}

// Ask implements Backend. onUpdate is not called: the reply arrives whole.
func (b *APIBackend) Ask(ctx context.Context, req Request, _ func(string)) (Reply, error) {
	ctx, span := telemetry.Tracer(aiScopeName).Start(ctx, "anthropic.messages.new")
	defer span.End()
	modelAttr := attribute.String("ccbridge.ai.model", b.opts.Model)
	span.SetAttributes(modelAttr, attribute.Int("ccbridge.ai.history_turns", len(req.Conversation.Turns)))

	params := b.params(req)
	start := time.Now()

	var message *anthropic.Message
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.opts.RetryMaxElapsed
	err := backoff.Retry(func() error {
		attempts++
		m, err := b.client.Messages.New(ctx, params)
		if err == nil {
			message = m
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	span.SetAttributes(attribute.Int("ccbridge.ai.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	elapsed := time.Since(start)
	aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
	aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
	aiMetrics.duration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(modelAttr))

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return Reply{}, errors.New("unexpected response format: no text blocks")
	}
	return Reply{Text: strings.TrimSpace(sb.String()), Duration: elapsed}, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter(aiScopeName)
	aiMetrics.inputTokens, _ = m.Int64Counter("ccbridge.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("ccbridge.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("ccbridge.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}
