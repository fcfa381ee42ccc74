package llm

import (
	"context"
	"errors"
)

// ErrRequestFailed wraps every network or API failure of a provider stream.
var ErrRequestFailed = errors.New("model request failed")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithTopP(topP float64) Option {
	return func(o *Options) {
		o.TopP = topP
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// ApplyOptions folds opts over the defaults.
func ApplyOptions(defaults Options, opts ...Option) Options {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stream is a finite, non-restartable sequence of reply fragments.
// Recv returns io.EOF once the model signals completion. Any other error
// ends the stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider defines the contract for any streaming LLM backend.
// The returned stream issues its request on the first Recv.
type Provider interface {
	ChatStream(ctx context.Context, credential string, messages []Message, options ...Option) Stream
}
