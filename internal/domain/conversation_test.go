package domain

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ConversationStatus
		want     bool
	}{
		{StatusOpen, StatusPaused, true},
		{StatusPaused, StatusOpen, true},
		{StatusOpen, StatusClosed, true},
		{StatusPaused, StatusClosed, true},
		{StatusClosed, StatusArchived, true},
		{StatusOpen, StatusArchived, false},
		{StatusArchived, StatusOpen, false},
		{StatusArchived, StatusClosed, false},
		{StatusClosed, StatusOpen, false},
		{StatusOpen, StatusOpen, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestParseContentType_UnknownFallsBackToText(t *testing.T) {
	if got := ParseContentType("hologram"); got != ContentText {
		t.Fatalf("expected text fallback, got %q", got)
	}
	if got := ParseContentType("voice"); got != ContentVoice {
		t.Fatalf("expected voice, got %q", got)
	}
}

func TestConversationTypeForChat(t *testing.T) {
	if got := ConversationTypeForChat(ChatGroup); got != ConversationGroup {
		t.Fatalf("group hint: got %q", got)
	}
	if got := ConversationTypeForChat(ChatChannel); got != ConversationBroadcast {
		t.Fatalf("channel hint: got %q", got)
	}
	if got := ConversationTypeForChat("something-new"); got != ConversationPrivate {
		t.Fatalf("unknown hint should default private, got %q", got)
	}
}

func TestHasParticipant(t *testing.T) {
	conv := Conversation{Participants: []Participant{
		{ExternalID: "u1", Role: RoleUser},
	}}
	if !conv.HasParticipant("u1") {
		t.Fatal("expected u1 present")
	}
	if conv.HasParticipant("u2") {
		t.Fatal("did not expect u2")
	}
}
