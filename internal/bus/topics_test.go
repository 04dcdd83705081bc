package bus

import "testing"

func TestEventTopics_Constants(t *testing.T) {
	topics := map[string]bool{
		TopicBulletinUpdated:   true,
		TopicBulletinStale:     true,
		TopicChatReceived:      true,
		TopicChatResponded:     true,
		TopicBlacklistAdded:    true,
		TopicBlacklistCleared:  true,
		TopicSkillBrokenMarked: true,
	}
	for name, ok := range topics {
		if !ok || name == "" {
			t.Fatalf("topic constant is empty")
		}
	}
	if len(topics) != 7 {
		t.Fatalf("expected 7 unique topics, got %d", len(topics))
	}
}

func TestBulletinUpdatedEvent_Fields(t *testing.T) {
	e := BulletinUpdatedEvent{Agent: "scout", Action: "gather_wood"}
	if e.Agent != "scout" || e.Action != "gather_wood" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestChatReceivedEvent_PaidTier(t *testing.T) {
	e := ChatReceivedEvent{Agent: "scout", Username: "viewer1", Text: "hi", PaidTier: true}
	if !e.PaidTier {
		t.Fatal("expected PaidTier true")
	}
}

func TestBlacklistEvent_Fields(t *testing.T) {
	e := BlacklistEvent{Agent: "scout", Key: "skill:foo", Reason: "no water found"}
	if e.Key != "skill:foo" {
		t.Fatalf("Key mismatch: got %s", e.Key)
	}
}
