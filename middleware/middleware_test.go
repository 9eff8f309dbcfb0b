package middleware

import (
	"context"
	"testing"
	"time"

	"caller-rpc/address"
	"caller-rpc/message"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(ctx context.Context, req *message.Message) *message.Message {
	return req.Reply(message.StatusOK, []byte("ok"))
}

func slowHandler(ctx context.Context, req *message.Message) *message.Message {
	time.Sleep(200 * time.Millisecond)
	return req.Reply(message.StatusOK, []byte("ok"))
}

func newRequest() *message.Message {
	return &message.Message{
		ID:     7,
		Kind:   message.KindRequest,
		Source: address.New("bob.os", "app"),
		Target: address.New("alice.os", "sign"),
		Body:   []byte(`{"Sign":[1]}`),
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("expect body 'ok', got '%s'", string(resp.Body))
	}
	if logs.FilterMessage("message handled").Len() != 1 {
		t.Fatalf("expect one log line, got %v", logs.All())
	}
}

func TestLoggingRefused(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reject := func(ctx context.Context, req *message.Message) *message.Message {
		return req.Reply(message.StatusRejected, nil)
	}
	LoggingMiddleware(zap.New(core))(reject)(context.Background(), newRequest())

	entries := logs.FilterMessage("message refused").All()
	if len(entries) != 1 {
		t.Fatalf("expect one refused line, got %v", logs.All())
	}
	if got := entries[0].ContextMap()["status"]; got != "rejected" {
		t.Fatalf("expect status rejected, got %v", got)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil || resp.Status != message.StatusOK {
		t.Fatalf("expect ok reply, got %+v", resp)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	start := time.Now()
	resp := handler(context.Background(), newRequest())
	if resp != nil {
		t.Fatalf("expect dropped reply, got %+v", resp)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if resp.Status != message.StatusOK {
			t.Fatalf("request %d should pass, got %s", i, resp.Status)
		}
	}

	resp := handler(context.Background(), newRequest())
	if resp == nil || resp.Status != message.StatusRejected {
		t.Fatalf("request 3 should be rejected, got %+v", resp)
	}
	if resp.ID != 7 || resp.Target != address.New("bob.os", "app") {
		t.Fatalf("rejection must be correlated to the request, got %+v", resp)
	}

	cast := newRequest()
	cast.Kind = message.KindCast
	if resp := handler(context.Background(), cast); resp != nil {
		t.Fatalf("cast over limit should be dropped, got %+v", resp)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) *message.Message {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	chained := Chain(mark("a"), LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond), mark("b"))
	resp := chained(echoHandler)(context.Background(), newRequest())

	if resp == nil || resp.Status != message.StatusOK {
		t.Fatalf("expect ok reply, got %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect a before b, got %v", order)
	}
}
