package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"k": "v"})
	if err != nil || id1 != "mem-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "alerts", "payload")
	if err != nil || id2 != "mem-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "runs" || msgs[1].Topic != "alerts" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}

	byTopic := pub.TopicMessages("alerts")
	if len(byTopic) != 1 || byTopic[0].Payload != "payload" {
		t.Fatalf("topic filter returned %+v", byTopic)
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	wantErr := errors.New("broker down")
	pub.FailWith(wantErr)

	if _, err := pub.Publish(context.Background(), "runs", "x"); !errors.Is(err, wantErr) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}

	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "runs", "x"); err != nil {
		t.Fatalf("publish after reset: %v", err)
	}
}
