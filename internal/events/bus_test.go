package events

import (
	"testing"
	"time"

	"github.com/masayosh4/lets-chat/internal/models"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8, TopicMessageNew)
	defer sub.Close()

	msg := &models.Message{ID: 1, RoomID: 2, Text: "hello"}
	bus.Publish(Event{Topic: TopicMessageNew, Message: msg})

	select {
	case evt := <-sub.C:
		if evt.Topic != TopicMessageNew {
			t.Errorf("Topic = %s, want %s", evt.Topic, TopicMessageNew)
		}
		if evt.Message == nil || evt.Message.ID != 1 {
			t.Errorf("Message = %+v, want id 1", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_TopicFilter(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8, TopicRoomArchive)
	defer sub.Close()

	bus.Publish(Event{Topic: TopicMessageNew})
	bus.Publish(Event{Topic: TopicRoomArchive})

	select {
	case evt := <-sub.C:
		if evt.Topic != TopicRoomArchive {
			t.Errorf("received %s, want only %s", evt.Topic, TopicRoomArchive)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	select {
	case evt := <-sub.C:
		t.Errorf("unexpected extra event %s", evt.Topic)
	default:
	}
}

func TestBus_AllTopics(t *testing.T) {
	bus := NewBus()
	// No topic list means everything.
	sub := bus.Subscribe(8)
	defer sub.Close()

	topics := []string{TopicRoomNew, TopicFileNew, TopicAccountUpdate}
	for _, topic := range topics {
		bus.Publish(Event{Topic: topic})
	}
	for _, want := range topics {
		select {
		case evt := <-sub.C:
			if evt.Topic != want {
				t.Errorf("got %s, want %s (order preserved)", evt.Topic, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1, TopicMessageNew)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		// Publish far beyond the buffer; must never block.
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Topic: TopicMessageNew})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_CloseUnsubscribes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8, TopicMessageNew)
	sub.Close()
	// Double close must be safe.
	sub.Close()

	bus.Publish(Event{Topic: TopicMessageNew})

	if _, ok := <-sub.C; ok {
		t.Error("received event on closed subscription")
	}
}
