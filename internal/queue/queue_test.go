package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Publish(ctx, Message{Type: TypeRosterChanged, Body: []byte("e1")}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		if msg.Type != TypeRosterChanged || string(msg.Body) != "e1" {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, _ := NewInMemory(1).Consume(ctx)
	cancel()

	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: "a"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "b"}); err == nil {
		t.Error("expected error publishing to a full queue with cancelled context")
	}
}

func TestCodec(t *testing.T) {
	tests := []struct {
		raw  string
		want Message
	}{
		{"roster.changed|abc", Message{Type: "roster.changed", Body: []byte("abc")}},
		{"roster.changed|", Message{Type: "roster.changed", Body: []byte("")}},
		{"a|b|c", Message{Type: "a", Body: []byte("b|c")}},
		{"no-separator", Message{Body: []byte("no-separator")}},
	}
	for _, tt := range tests {
		got := decode(tt.raw)
		if got.Type != tt.want.Type || string(got.Body) != string(tt.want.Body) {
			t.Errorf("decode(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}

	msg := Message{Type: TypeAttendanceMarked, Body: []byte(`{"id":"1"}`)}
	if got := decode(encode(msg)); got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Errorf("round trip = %+v", got)
	}
}
