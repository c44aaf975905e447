package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int64
		var lastPayload atomic.Value

		_, err := b.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			lastPayload.Store(string(msg.Payload))
			received.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "test.topic", []byte(`{"hello":"world"}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return received.Load() == 1 })
		if got := lastPayload.Load().(string); got != `{"hello":"world"}` {
			t.Errorf("unexpected payload: %s", got)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var a, c atomic.Int64
		b.Subscribe(ctx, "topic.a", func(ctx context.Context, msg *domain.Message) error {
			a.Add(1)
			return nil
		})
		b.Subscribe(ctx, "topic.c", func(ctx context.Context, msg *domain.Message) error {
			c.Add(1)
			return nil
		})

		b.Publish(ctx, "topic.a", []byte("x"))
		b.Publish(ctx, "topic.a", []byte("y"))

		waitFor(t, func() bool { return a.Load() == 2 })
		if c.Load() != 0 {
			t.Errorf("topic.c handler should not fire, got %d", c.Load())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var first, second atomic.Int64
		b.Subscribe(ctx, "fan.out", func(ctx context.Context, msg *domain.Message) error {
			first.Add(1)
			return nil
		})
		b.Subscribe(ctx, "fan.out", func(ctx context.Context, msg *domain.Message) error {
			second.Add(1)
			return nil
		})

		b.Publish(ctx, "fan.out", []byte("x"))

		waitFor(t, func() bool { return first.Load() == 1 && second.Load() == 1 })
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int64
		sub, err := b.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic: %s", sub.Topic())
		}

		b.Publish(ctx, "unsub.topic", []byte("x"))
		waitFor(t, func() bool { return received.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
		// Let the handler goroutine observe the cancellation.
		time.Sleep(20 * time.Millisecond)

		b.Publish(ctx, "unsub.topic", []byte("y"))
		time.Sleep(50 * time.Millisecond)
		if received.Load() != 1 {
			t.Errorf("handler fired after unsubscribe: %d", received.Load())
		}
	})

	t.Run("PublishWithoutSubscribers", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		if err := b.Publish(ctx, "nobody.home", []byte("x")); err != nil {
			t.Errorf("publish without subscribers should not fail: %v", err)
		}
	})

	t.Run("ClosedBus", func(t *testing.T) {
		b := NewChannelBus(16)
		b.Close()

		if err := b.Publish(ctx, "t", []byte("x")); err == nil {
			t.Error("expected publish on closed bus to fail")
		}
		if _, err := b.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
			t.Error("expected subscribe on closed bus to fail")
		}
		if err := b.Ping(ctx); err == nil {
			t.Error("expected ping on closed bus to fail")
		}
	})
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "pigeon"}); err == nil {
		t.Error("expected error for unknown bus type")
	}
}
