package fanout

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/converse-chat/converse/internal/bus"
	"github.com/converse-chat/converse/internal/domain"
	"github.com/converse-chat/converse/internal/store"
	"go.uber.org/zap"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	e := NewEngine(db, b, zap.NewNop())
	return e, db, b
}

func TestEngineEmitsDigestPerParticipant(t *testing.T) {
	e, db, b := testEngine(t)

	if err := db.EnsureConversation("c1", "group", 1000, []domain.Participant{
		{UserID: "alice", JoinedAt: 1000},
		{UserID: "bob", JoinedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendMessage(&store.Message{
		ID: "m1", ConversationID: "c1", SenderID: "alice",
		Body: "hello", Type: domain.TypeText, CreatedAt: 2000,
	}); err != nil {
		t.Fatal(err)
	}

	aliceCh, unsubA := b.Subscribe(domain.UserTopic("alice"), 8)
	defer unsubA()
	bobCh, unsubB := b.Subscribe(domain.UserTopic("bob"), 8)
	defer unsubB()

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(domain.Event{
		Topic: domain.ConversationTopic("c1"),
		Kind:  domain.EventNewMessage,
		At:    2000,
	})

	for _, tc := range []struct {
		user string
		ch   <-chan domain.Event
	}{
		{"alice", aliceCh},
		{"bob", bobCh},
	} {
		select {
		case evt := <-tc.ch:
			if evt.Kind != domain.EventConversationList {
				t.Errorf("%s: kind = %s, want conversationListUpdate", tc.user, evt.Kind)
			}
			payload, ok := evt.Payload.(map[string]any)
			if !ok {
				t.Fatalf("%s: payload type %T", tc.user, evt.Payload)
			}
			if payload["conversationId"] != "c1" {
				t.Errorf("%s: conversationId = %v", tc.user, payload["conversationId"])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no digest event arrived", tc.user)
		}
	}
}

func TestEngineIgnoresTypingSignals(t *testing.T) {
	e, db, b := testEngine(t)

	if err := db.EnsureConversation("c1", "group", 1000, []domain.Participant{
		{UserID: "alice", JoinedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(domain.UserTopic("alice"), 8)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	b.Publish(domain.Event{
		Topic: domain.ConversationTopic("c1"),
		Kind:  domain.EventTypingStarted,
		At:    2000,
	})

	select {
	case evt := <-ch:
		t.Fatalf("typing produced a digest event: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}
