// Package providertest provides scripted providers for tests.
package providertest

import (
	"context"
	"io"
	"sync"

	"qmpie/internal/provider"
)

// Reply scripts one model call.
type Reply struct {
	Chunks    []string
	ToolCalls []provider.ToolCallDelta
	Usage     *provider.Usage
	// Final is returned by Stream.Final.
	Final string
	// RecvErr is returned after the chunks instead of io.EOF.
	RecvErr error
	// OpenErr fails the call before any stream exists.
	OpenErr error
}

// Text scripts a reply streamed as the given chunks.
func Text(chunks ...string) Reply {
	return Reply{Chunks: chunks}
}

// Provider replays Replies in order; the last one repeats.
type Provider struct {
	Replies []Reply
	// Gate, when set, makes every call wait for a value (or ctx) before
	// opening its stream.
	Gate chan struct{}

	mu       sync.Mutex
	calls    int
	requests []provider.Request
}

func (p *Provider) Name() string         { return "scripted" }
func (p *Provider) CurrentModel() string { return "scripted-model" }

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var r Reply
	if n := len(p.Replies); n > 0 {
		if idx >= n {
			idx = n - 1
		}
		r = p.Replies[idx]
	}
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	return NewStream(r), nil
}

// Requests returns the requests seen so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

// Stream replays a Reply.
type Stream struct {
	reply      Reply
	pos        int
	toolsSent  bool
	usageSent  bool
	Closed     bool
	FinalCalls int
}

func NewStream(r Reply) *Stream {
	return &Stream{reply: r}
}

func (s *Stream) Recv() (provider.Event, error) {
	if s.pos < len(s.reply.Chunks) {
		s.pos++
		return provider.Event{Text: s.reply.Chunks[s.pos-1]}, nil
	}
	if !s.toolsSent && len(s.reply.ToolCalls) > 0 {
		s.toolsSent = true
		return provider.Event{ToolCalls: s.reply.ToolCalls}, nil
	}
	if !s.usageSent && s.reply.Usage != nil {
		s.usageSent = true
		return provider.Event{Usage: s.reply.Usage}, nil
	}
	if s.reply.RecvErr != nil {
		return provider.Event{}, s.reply.RecvErr
	}
	return provider.Event{}, io.EOF
}

func (s *Stream) Final(context.Context) (string, error) {
	s.FinalCalls++
	return s.reply.Final, nil
}

func (s *Stream) Close() error {
	s.Closed = true
	return nil
}
