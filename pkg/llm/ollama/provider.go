package ollama

import (
	"bufio"
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

const DefaultBaseURL = "http://localhost:11434"

type OllamaProvider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

// Ensure OllamaProvider implements Provider
var _ llm.Provider = &OllamaProvider{}

func NewOllamaProvider(baseURL, modelName string) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OllamaProvider{
		BaseURL:   baseURL,
		ModelName: modelName,
		Client: &http.Client{
			// First request can be slow while the model loads.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 120 * time.Second,
			},
		},
	}
}

// --- Request/Response structs (Internal to this package) ---

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// --- Interface Implementation ---

func (o *OllamaProvider) ChatStream(ctx context.Context, credential string, history []llm.Message, opts ...llm.Option) llm.Stream {
	options := llm.ApplyOptions(llm.Options{Temperature: 0.7, TopP: 0.9}, opts...)

	ollamaMessages := make([]ollamaMessage, len(history))
	for i, msg := range history {
		ollamaMessages[i] = ollamaMessage{Role: msg.Role, Content: msg.Content}
	}

	model := o.ModelName
	if options.Model != "" {
		model = options.Model
	}

	return &stream{
		ctx:        ctx,
		provider:   o,
		credential: credential,
		request: ollamaChatRequest{
			Model:    model,
			Messages: ollamaMessages,
			Stream:   true,
			Options: &ollamaOptions{
				Temperature: options.Temperature,
				TopP:        options.TopP,
				NumPredict:  options.MaxTokens,
			},
		},
	}
}

type stream struct {
	ctx        context.Context
	provider   *OllamaProvider
	credential string
	request    ollamaChatRequest

	body    io.ReadCloser
	scanner *bufio.Scanner
	err     error
}

func (s *stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.scanner == nil {
		if err := s.open(); err != nil {
			return "", s.fail(err)
		}
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", s.fail(fmt.Errorf("unmarshal chunk: %w", err))
		}
		if chunk.Error != "" {
			return "", s.fail(fmt.Errorf("ollama error: %s", chunk.Error))
		}
		if chunk.Done {
			s.Close()
			s.err = io.EOF
			// The final object may still carry trailing content.
			if chunk.Message.Content != "" {
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Message.Content == "" {
			continue
		}
		return chunk.Message.Content, nil
	}

	err := s.scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = ctxErr
	}
	return "", s.fail(fmt.Errorf("read stream: %w", err))
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

	url := s.provider.BaseURL + "/api/chat"
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Ollama itself ignores this; reverse proxies in front of it often do not.
	if s.credential != "" {
		req.Header.Set("Authorization", "Bearer "+s.credential)
	}

	resp, err := s.provider.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	s.body = resp.Body
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return nil
}
