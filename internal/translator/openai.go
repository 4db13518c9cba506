package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"akash-router/internal/models"
)

const (
	defaultTemperature = 0.7
	defaultTopP        = 1.0

	placeholderContent = "Hello"
	upstreamIDLength   = 16
)

var (
	errEmptyModel     = errors.New("model must be provided")
	errInvalidContent = errors.New("invalid message content")
)

// ChatCompletionRequest models the OpenAI chat/completions request payload.
type ChatCompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	Temperature float64
	TopP        float64
	MaxTokens   *int
}

// UnmarshalJSON applies sampling defaults. Roles and message text are passed
// through untouched; an empty message list is left for ToUpstream to fill.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Stream      bool          `json:"stream"`
		Temperature *float64      `json:"temperature"`
		TopP        *float64      `json:"top_p"`
		MaxTokens   *int          `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens

	r.Temperature = defaultTemperature
	if raw.Temperature != nil {
		r.Temperature = *raw.Temperature
	}
	r.TopP = defaultTopP
	if raw.TopP != nil {
		r.TopP = *raw.TopP
	}

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	return nil
}

// ToChat converts the OpenAI request into the canonical format.
func (r ChatCompletionRequest) ToChat() models.ChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return models.ChatRequest{
		Model:       r.Model,
		Messages:    msgs,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      r.Stream,
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// Resolver maps a requested model name to a canonical upstream id.
type Resolver interface {
	Resolve(name string) string
}

// ToUpstream builds the upstream request body. System messages are joined in
// order into the system field; every other message passes through in order.
// A request without any non-system message gets a placeholder user turn.
func ToUpstream(req models.ChatRequest, resolver Resolver) models.UpstreamRequest {
	var (
		system   []string
		messages = make([]models.Message, 0, len(req.Messages))
	)
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}
	if len(messages) == 0 {
		messages = append(messages, models.Message{Role: "user", Content: placeholderContent})
	}

	return models.UpstreamRequest{
		ID:          NewUpstreamID(),
		Messages:    messages,
		Model:       resolver.Resolve(req.Model),
		System:      strings.Join(system, "\n"),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Context:     []any{},
	}
}

// NewUpstreamID returns a random 16 character hex identifier.
func NewUpstreamID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:upstreamIDLength]
}

// NewResponseID returns an OpenAI-style completion id.
func NewResponseID() string {
	return "chatcmpl-" + uuid.NewString()
}
