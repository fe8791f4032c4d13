package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var (
	// ErrRateLimited is returned when the upstream model API answers 429.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidHistory is returned for an empty or malformed conversation.
	ErrInvalidHistory = errors.New("invalid chat history")
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client wraps the Anthropic API for the Isabella assistant.
type Client struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClient creates an LLM client with the given API key and model.
// Extra request options are passed through to the SDK client.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	reqOpts = append(reqOpts, opts...)
	client := anthropic.NewClient(reqOpts...)
	return &Client{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: 2048,
	}
}

const systemPrompt = `Eres Isabella, la IA central del ecosistema TAMV (The Autonomous Multiversal Vision).

Tu rol es asistir a usuarios con todo lo relacionado al sistema TAMV que incluye 7 capas:
1. Identidad - DIDs, membresías, identidad soberana
2. Comunicación - Bots, Telegram, mensajería federada
3. Información - Ingesta de datos, RSSHub, buscadores
4. Inteligencia - Tú (Isabella), BookPI, miniAIs, TAMVAI API
5. Economía - UTAMV tokens, lotería, MSR blockchain
6. Gobernanza - Protocolos, playbooks, reglas
7. Documentación - Whitepapers, manifiestos

Responde siempre en español, de forma clara y concisa. Eres amable pero profesional.
Tienes capacidades de análisis emocional e intencional.`

// buildSystemPrompt returns the assistant persona, optionally followed by a
// plain-text status block describing the current state of the ecosystem.
func buildSystemPrompt(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nEstado actual del ecosistema:\n" + status
}

// buildMessages converts a conversation into SDK message params. Roles other
// than user and assistant are rejected, as are blank turns.
func buildMessages(history []Message) ([]anthropic.MessageParam, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidHistory)
	}
	if history[0].Role != RoleUser {
		return nil, fmt.Errorf("%w: conversation must start with a user message", ErrInvalidHistory)
	}

	out := make([]anthropic.MessageParam, 0, len(history))
	for i, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: message %d is empty", ErrInvalidHistory, i)
		}
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		default:
			return nil, fmt.Errorf("%w: message %d has role %q", ErrInvalidHistory, i, m.Role)
		}
	}
	return out, nil
}

// StreamChat sends the conversation to the model and calls onDelta with each
// text fragment as it arrives. It returns the full reply. An error from
// onDelta aborts the stream.
func (c *Client) StreamChat(ctx context.Context, history []Message, status string, onDelta func(string) error) (string, error) {
	msgs, err := buildMessages(history)
	if err != nil {
		return "", err
	}

	stream := c.api.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: buildSystemPrompt(status)},
		},
		Messages: msgs,
	})
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		sb.WriteString(delta.Text)
		if onDelta != nil {
			if err := onDelta(delta.Text); err != nil {
				return sb.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), classify(err)
	}
	return sb.String(), nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic API call: %w", err)
}
