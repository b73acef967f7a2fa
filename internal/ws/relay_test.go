package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/masayosh4/lets-chat/internal/events"
	"github.com/masayosh4/lets-chat/internal/models"
	"github.com/masayosh4/lets-chat/internal/presence"
)

type fakeSender struct {
	ch chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan []byte, 16)}
}

func (f *fakeSender) Send(data []byte) bool {
	select {
	case f.ch <- data:
		return true
	default:
		return false
	}
}

func (f *fakeSender) recv(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case b := <-f.ch:
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no payload received")
		return nil
	}
}

func (f *fakeSender) empty() bool {
	select {
	case <-f.ch:
		return false
	default:
		return true
	}
}

func register(r *presence.Registry, id string, userID uint, s presence.Sender) {
	r.Register(&presence.Connection{ID: id, UserID: userID, Transport: "websocket", Sender: s})
}

func TestRelay_BroadcastRoomRespectsAuthorization(t *testing.T) {
	registry := presence.NewRegistry()
	relay := NewRelay(registry, events.NewBus())

	member := newFakeSender()
	stranger := newFakeSender()
	register(registry, "c1", 20, member)
	register(registry, "c2", 30, stranger)

	room := &models.Room{
		ID: 1, OwnerID: 10, Private: true,
		Participants: []models.RoomParticipant{{RoomID: 1, UserID: 20}},
	}
	relay.BroadcastRoom(room, map[string]interface{}{"type": "typing"})

	if got := member.recv(t); got["type"] != "typing" {
		t.Errorf("member payload type = %v, want typing", got["type"])
	}
	if !stranger.empty() {
		t.Error("unauthorized connection received a room broadcast")
	}
}

func TestRelay_SendUserReachesAllDevices(t *testing.T) {
	registry := presence.NewRegistry()
	relay := NewRelay(registry, events.NewBus())

	laptop := newFakeSender()
	phone := newFakeSender()
	other := newFakeSender()
	register(registry, "c1", 5, laptop)
	register(registry, "c2", 5, phone)
	register(registry, "c3", 6, other)

	relay.SendUser(5, map[string]interface{}{"type": "user-message"})

	laptop.recv(t)
	phone.recv(t)
	if !other.empty() {
		t.Error("unrelated user received a direct payload")
	}
}

func TestRelay_RunDispatchesCommittedMessages(t *testing.T) {
	registry := presence.NewRegistry()
	bus := events.NewBus()
	relay := NewRelay(registry, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)
	// Give the relay a moment to subscribe.
	time.Sleep(10 * time.Millisecond)

	member := newFakeSender()
	register(registry, "c1", 20, member)

	room := &models.Room{ID: 1, OwnerID: 20}
	msg := &models.Message{ID: 9, RoomID: 1, OwnerID: 20, Text: "hi", Posted: time.Now()}
	owner := &models.User{ID: 20, Username: "alice"}
	bus.Publish(events.Event{Topic: events.TopicMessageNew, Message: msg, Room: room, User: owner})

	got := member.recv(t)
	if got["type"] != "message" || got["text"] != "hi" || got["username"] != "alice" {
		t.Errorf("payload = %v, want relayed message from alice", got)
	}
}

func TestRelay_NotifyPresence(t *testing.T) {
	registry := presence.NewRegistry()
	relay := NewRelay(registry, events.NewBus())

	member := newFakeSender()
	register(registry, "c1", 20, member)

	room := &models.Room{ID: 1, OwnerID: 20}
	relay.NotifyPresence(room, 21, "bob", true)
	if got := member.recv(t); got["type"] != "join" || got["username"] != "bob" {
		t.Errorf("payload = %v, want join notice for bob", got)
	}
	relay.NotifyPresence(room, 21, "bob", false)
	if got := member.recv(t); got["type"] != "leave" {
		t.Errorf("payload = %v, want leave notice", got)
	}
}
