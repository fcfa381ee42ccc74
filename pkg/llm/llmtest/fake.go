// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"csv-analyst-be/pkg/llm"
)

// Call records one ChatStream invocation.
type Call struct {
	Credential string
	Messages   []llm.Message
	Options    llm.Options
}

// FakeProvider replays Chunks on every stream. When Err is set the stream
// fails after FailAfter chunks. A non-nil Block holds the first Recv until it
// is closed or the stream context ends.
type FakeProvider struct {
	Chunks    []string
	Err       error
	FailAfter int
	Block     chan struct{}

	mu    sync.Mutex
	calls []Call
	opens int
}

var _ llm.Provider = &FakeProvider{}

func (f *FakeProvider) ChatStream(ctx context.Context, credential string, messages []llm.Message, opts ...llm.Option) llm.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{
		Credential: credential,
		Messages:   append([]llm.Message(nil), messages...),
		Options:    llm.ApplyOptions(llm.Options{}, opts...),
	})
	return &fakeStream{ctx: ctx, provider: f}
}

func (f *FakeProvider) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Opens counts streams that actually reached the "remote" side.
func (f *FakeProvider) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeStream struct {
	ctx      context.Context
	provider *FakeProvider
	opened   bool
	pos      int
	err      error
}

func (s *fakeStream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !s.opened {
		s.opened = true
		s.provider.mu.Lock()
		s.provider.opens++
		s.provider.mu.Unlock()
		if s.provider.Block != nil {
			select {
			case <-s.provider.Block:
			case <-s.ctx.Done():
			}
		}
	}
	if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("%w: %w", llm.ErrRequestFailed, err)
		return "", s.err
	}
	if s.provider.Err != nil && s.pos >= s.provider.FailAfter {
		s.err = fmt.Errorf("%w: %w", llm.ErrRequestFailed, s.provider.Err)
		return "", s.err
	}
	if s.pos >= len(s.provider.Chunks) {
		s.err = io.EOF
		return "", io.EOF
	}
	chunk := s.provider.Chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *fakeStream) Close() error {
	return nil
}
