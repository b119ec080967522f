package eventbus

import (
	"context"
	"errors"
	"testing"
)

type sample struct{ N int }

func TestInMemoryBus_TypedHandlers(t *testing.T) {
	bus := NewInMemoryBus()
	var got []int
	On(bus, func(ctx context.Context, e sample) error {
		got = append(got, e.N)
		return nil
	})

	if err := bus.Publish(context.Background(), sample{N: 1}); err != nil {
		t.Fatalf("publish value: %v", err)
	}
	if err := bus.Publish(context.Background(), &sample{N: 2}); err != nil {
		t.Fatalf("publish pointer: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestInMemoryBus_JoinsErrors(t *testing.T) {
	bus := NewInMemoryBus()
	boom := errors.New("boom")
	calls := 0
	bus.Subscribe(EventTypeOf[sample](), func(ctx context.Context, event any) error {
		calls++
		return boom
	})
	bus.Subscribe(EventTypeOf[sample](), func(ctx context.Context, event any) error {
		calls++
		return nil
	})

	err := bus.Publish(context.Background(), sample{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
	if err := bus.Publish(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Fatalf("expected ErrNilEvent, got %v", err)
	}
}
