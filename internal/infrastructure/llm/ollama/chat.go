package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/arxiv-rag/internal/core/domain"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/resilience"
)

const maxStreamLineBytes = 1 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

// chatChunk is both the non-streaming response and one NDJSON line of a streamed response.
type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// ChatModel is the language model gateway backed by Ollama's /api/chat.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	payload := m.chatRequest(req, false)

	text, err := resilience.Call(ctx, m.client.executor, "ollama.chat", func(ctx context.Context) (string, error) {
		var response chatChunk
		if err := m.client.postJSON(ctx, "/api/chat", payload, &response, "chat"); err != nil {
			return "", err
		}
		if response.Error != "" {
			return "", fmt.Errorf("ollama chat: %s", response.Error)
		}
		return response.Message.Content, nil
	}, classifyOllamaError)
	if err != nil {
		return "", wrapModelError("ollama chat", err)
	}
	return strings.TrimSpace(text), nil
}

// CompleteStream forwards each content fragment to onFragment as soon as its line arrives.
// Opening the stream is retried; once fragments flow, failures are returned as they are.
// An error from onFragment stops reading and closes the response body.
func (m *ChatModel) CompleteStream(ctx context.Context, req domain.CompletionRequest, onFragment func(string) error) error {
	payload := m.chatRequest(req, true)

	resp, err := resilience.Call(ctx, m.client.executor, "ollama.chat_stream", func(ctx context.Context) (*http.Response, error) {
		return m.client.openStream(ctx, "/api/chat", payload, "chat stream")
	}, classifyOllamaError)
	if err != nil {
		return wrapModelError("ollama chat stream", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return domain.WrapError(domain.ErrUpstreamModel, "ollama chat stream", fmt.Errorf("decode stream line: %w", err))
		}
		if chunk.Error != "" {
			return domain.NewError(domain.ErrUpstreamModel, "ollama chat stream", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onFragment(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.WrapError(domain.ErrUpstreamModel, "ollama chat stream", err)
	}
	return domain.WrapError(domain.ErrUpstreamModel, "ollama chat stream", errors.New("stream ended before done"))
}

func (m *ChatModel) chatRequest(req domain.CompletionRequest, stream bool) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	return chatRequest{
		Model:    m.client.genModel,
		Messages: messages,
		Stream:   stream,
		Options: chatOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		},
	}
}
