package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"csv-analyst-be/pkg/llm"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider streams chat completions from any OpenAI-compatible API.
type OpenAIProvider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

// Ensure OpenAIProvider implements Provider
var _ llm.Provider = &OpenAIProvider{}

func NewOpenAIProvider(baseURL, modelName string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIProvider{
		BaseURL:   baseURL,
		ModelName: modelName,
		// No overall timeout: a streamed reply can legitimately take minutes.
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// --- Request/Response structs (Internal to this package) ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// --- Interface Implementation ---

func (p *OpenAIProvider) ChatStream(ctx context.Context, credential string, history []llm.Message, opts ...llm.Option) llm.Stream {
	options := llm.ApplyOptions(llm.Options{Temperature: 0.7, TopP: 1}, opts...)

	model := p.ModelName
	if options.Model != "" {
		model = options.Model
	}

	messages := make([]chatMessage, len(history))
	for i, msg := range history {
		messages[i] = chatMessage{Role: msg.Role, Content: msg.Content}
	}

	return &stream{
		ctx:        ctx,
		provider:   p,
		credential: credential,
		request: chatRequest{
			Model:       model,
			Messages:    messages,
			Stream:      true,
			Temperature: options.Temperature,
			TopP:        options.TopP,
			MaxTokens:   options.MaxTokens,
		},
	}
}

type stream struct {
	ctx        context.Context
	provider   *OpenAIProvider
	credential string
	request    chatRequest

	body   io.ReadCloser
	reader *sseReader
	err    error
}

func (s *stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.reader == nil {
		if err := s.open(); err != nil {
			return "", s.fail(err)
		}
	}

	for {
		data, err := s.reader.readEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return "", s.fail(fmt.Errorf("read stream: %w", err))
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			s.Close()
			s.err = io.EOF
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", s.fail(fmt.Errorf("unmarshal chunk: %w", err))
		}
		if chunk.Error != nil {
			return "", s.fail(fmt.Errorf("api error: %s", chunk.Error.Message))
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *stream) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *stream) fail(err error) error {
	s.Close()
	s.err = fmt.Errorf("%w: %w", llm.ErrRequestFailed, err)
	return s.err
}

func (s *stream) open() error {
	payloadBytes, err := json.Marshal(s.request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := s.provider.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.credential)

	resp, err := s.provider.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errBody struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != nil {
			return fmt.Errorf("status %d: %s", resp.StatusCode, errBody.Error.Message)
		}
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}

	s.body = resp.Body
	s.reader = newSSEReader(resp.Body)
	return nil
}
