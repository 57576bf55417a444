package llm

import (
	"context"
	"testing"
)

type stubAdapter struct {
	name     string
	response *Response
	err      error
	calls    int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func TestClientRoutesToDefaultProvider(t *testing.T) {
	stub := &stubAdapter{name: "stub", response: &Response{Text: "hello"}}
	client := NewClient(WithProvider("stub", stub))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("Text = %q, want hello", resp.Text)
	}
	if resp.Provider == "" && stub.calls != 1 {
		t.Errorf("adapter called %d times, want 1", stub.calls)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("hi")},
		Provider: "nope",
	})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
}

func TestClientRejectsInvalidRequest(t *testing.T) {
	stub := &stubAdapter{name: "stub", response: &Response{}}
	client := NewClient(WithProvider("stub", stub))

	// Tool message without a call id violates the canonical model.
	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleTool, Content: "orphan"}},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if stub.calls != 0 {
		t.Error("invalid request must not reach the adapter")
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	stub := &stubAdapter{name: "stub", response: &Response{Text: "base"}}
	var order []string

	mw := func(tag string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, tag)
			return next(ctx, req)
		}
	}

	client := NewClient(WithProvider("stub", stub), WithMiddleware(mw("first"), mw("second")))
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("x")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("middleware order = %v, want [first second]", order)
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	b := Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}
	sum := a.Add(b)
	if sum.InputTokens != 13 || sum.OutputTokens != 7 || sum.TotalTokens != 20 {
		t.Errorf("unexpected sum: %+v", sum)
	}
}
