// Package llmtest provides scripted reasoning-service fakes for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/model"
)

// Reply is one scripted model answer.
type Reply struct {
	Text      string
	ToolCalls []model.ToolCall
	Err       error
}

// Script answers requests with Replies in order and records every request.
// Requests beyond the script fail.
type Script struct {
	mu       sync.Mutex
	Replies  []Reply
	Requests []model.Request
}

func NewScript(replies ...Reply) *Script {
	return &Script{Replies: replies}
}

// Texts is shorthand for a script of plain text answers.
func Texts(texts ...string) *Script {
	s := &Script{}
	for _, t := range texts {
		s.Replies = append(s.Replies, Reply{Text: t})
	}
	return s
}

func (s *Script) Complete(_ context.Context, req model.Request) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	idx := len(s.Requests) - 1
	if idx >= len(s.Replies) {
		return nil, errors.New("script exhausted")
	}
	r := s.Replies[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &model.Response{
		Message: model.Message{Role: "assistant", Content: r.Text, ToolCalls: r.ToolCalls},
	}, nil
}

func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

func (s *Script) Request(i int) model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Requests[i]
}

// Func adapts a function to the model interface.
type Func func(ctx context.Context, req model.Request) (*model.Response, error)

func (f Func) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	return f(ctx, req)
}

// Text builds a plain assistant response.
func Text(text string) *model.Response {
	return &model.Response{Message: model.Message{Role: "assistant", Content: text}}
}

// LastUser returns the content of the last user message in req.
func LastUser(req model.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}
