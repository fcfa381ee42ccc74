package pipeline

import (
	"context"
	"errors"

	"csv-analyst-be/pkg/conversation"
	"csv-analyst-be/pkg/llm"
	"csv-analyst-be/pkg/prompt"
)

var ErrMissingCredential = errors.New("missing credential")

// Decoding holds the sampling parameters fixed for the life of a pipeline.
type Decoding struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

func DefaultDecoding() Decoding {
	return Decoding{
		Model:       "gpt-4o",
		Temperature: 0.2,
		TopP:        0.5,
	}
}

// AnalystPipeline binds a credential, a prompt template and decoding
// parameters to a provider. It is the model session of one loaded dataset.
type AnalystPipeline struct {
	llmProvider llm.Provider
	credential  string
	template    *prompt.Template
	decoding    Decoding
}

// NewAnalystPipeline fails with ErrMissingCredential when credential is empty
// so that callers never reach the provider without one.
func NewAnalystPipeline(llmProvider llm.Provider, credential string, template *prompt.Template, decoding Decoding) (*AnalystPipeline, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	if template == nil {
		return nil, errors.New("pipeline: nil template")
	}
	return &AnalystPipeline{
		llmProvider: llmProvider,
		credential:  credential,
		template:    template,
		decoding:    decoding,
	}, nil
}

// Ask opens a lazy reply stream for input given the prior turns.
func (p *AnalystPipeline) Ask(ctx context.Context, input string, history []conversation.Turn) llm.Stream {
	messages := p.template.Format(history, input)

	opts := []llm.Option{
		llm.WithTemperature(p.decoding.Temperature),
		llm.WithTopP(p.decoding.TopP),
	}
	if p.decoding.Model != "" {
		opts = append(opts, llm.WithModel(p.decoding.Model))
	}
	if p.decoding.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(p.decoding.MaxTokens))
	}

	return p.llmProvider.ChatStream(ctx, p.credential, messages, opts...)
}

// Rebind returns a copy bound to a different credential.
func (p *AnalystPipeline) Rebind(credential string) (*AnalystPipeline, error) {
	return NewAnalystPipeline(p.llmProvider, credential, p.template, p.decoding)
}

func (p *AnalystPipeline) Template() *prompt.Template {
	return p.template
}

func (p *AnalystPipeline) Decoding() Decoding {
	return p.decoding
}
