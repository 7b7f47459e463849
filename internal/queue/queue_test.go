package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	want := Message{Type: TypeRejection, Body: []byte(`{"kind":"invalid_code"}`)}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-msgs:
		if got.Type != want.Type || string(got.Body) != string(want.Body) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	// JSON bodies contain the separator; only the first one splits.
	msg := Message{Type: TypeAudit, Body: []byte(`{"meta":"a|b"}`)}
	got := deserialize(serialize(msg))
	if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Fatalf("round trip lost data: %+v", got)
	}
}

func TestInMemory_PublishBlockedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(0)
	cancel()
	if err := q.Publish(ctx, Message{Type: TypeAudit}); err == nil {
		t.Fatal("publish on cancelled context should fail")
	}
}
