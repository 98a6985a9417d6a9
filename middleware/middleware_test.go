package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/nogipx/rpcengine-go/envelope"
	"github.com/nogipx/rpcengine-go/logging"
)

func TestOnRequestRunsHooksInOrder(t *testing.T) {
	c := New(logging.Nop{})
	var order []string
	c.Append(Hook{
		Name: "first",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error) {
			order = append(order, "first")
			return payload.(string) + "-first", meta, nil
		},
	})
	c.Append(Hook{
		Name: "second",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error) {
			order = append(order, "second")
			return payload.(string) + "-second", meta, nil
		},
	})

	out := c.OnRequest(context.Background(), "svc", "method", Result{Payload: "base"}, ToRemote)
	if out.Payload != "base-first-second" {
		t.Fatalf("Payload = %q, want %q", out.Payload, "base-first-second")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hooks ran out of order: %v", order)
	}
}

func TestHookErrorKeepsPreHookValue(t *testing.T) {
	c := New(logging.Nop{})
	c.Append(Hook{
		Name: "faulty",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error) {
			return "mutated", meta, errors.New("boom")
		},
	})
	out := c.OnRequest(context.Background(), "svc", "method", Result{Payload: "base"}, FromRemote)
	if out.Payload != "base" {
		t.Fatalf("Payload = %q, want the pre-hook value %q after a hook error", out.Payload, "base")
	}
}

func TestHookPanicIsSwallowed(t *testing.T) {
	c := New(logging.Nop{})
	c.Append(Hook{
		Name: "panics",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error) {
			panic("kaboom")
		},
	})
	c.Append(Hook{
		Name: "after",
		OnRequest: func(ctx context.Context, service, method string, payload any, meta *envelope.Metadata, dir Direction) (any, *envelope.Metadata, error) {
			return "survived", meta, nil
		},
	})
	out := c.OnRequest(context.Background(), "svc", "method", Result{Payload: "base"}, ToRemote)
	if out.Payload != "survived" {
		t.Fatalf("expected the chain to keep running after a panic, got %q", out.Payload)
	}
}

func TestOnStreamEndAndOnErrorRunEveryHook(t *testing.T) {
	c := New(logging.Nop{})
	var endCalls, errCalls int
	c.Append(Hook{
		Name:        "a",
		OnStreamEnd: func(ctx context.Context, service, method string, dir Direction) { endCalls++ },
		OnError:     func(ctx context.Context, service, method string, err error, dir Direction) { errCalls++ },
	})
	c.Append(Hook{
		Name:        "b",
		OnStreamEnd: func(ctx context.Context, service, method string, dir Direction) { endCalls++ },
		OnError:     func(ctx context.Context, service, method string, err error, dir Direction) { errCalls++ },
	})

	c.OnStreamEnd(context.Background(), "svc", "method", ToRemote)
	c.OnError(context.Background(), "svc", "method", errors.New("x"), FromRemote)

	if endCalls != 2 || errCalls != 2 {
		t.Fatalf("endCalls=%d errCalls=%d, want 2 and 2", endCalls, errCalls)
	}
}

func TestNilHookFieldsAreSkipped(t *testing.T) {
	c := New(logging.Nop{})
	c.Append(Hook{Name: "empty"})
	out := c.OnRequest(context.Background(), "svc", "method", Result{Payload: "unchanged"}, ToRemote)
	if out.Payload != "unchanged" {
		t.Fatalf("expected an empty Hook to be a no-op, got %q", out.Payload)
	}
	c.OnStreamEnd(context.Background(), "svc", "method", ToRemote)
	c.OnError(context.Background(), "svc", "method", errors.New("x"), ToRemote)
}
