package domain

import "testing"

func TestMessageStatusTransitions(t *testing.T) {
	tests := []struct {
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{MessagePending, MessageClassifying, true},
		{MessagePending, MessageParsed, false},
		{MessagePending, MessageDismissed, false},
		{MessageClassifying, MessageClassified, true},
		{MessageClassifying, MessageManualReview, true},
		{MessageClassifying, MessageDismissed, true},
		{MessageClassifying, MessageFailed, true},
		{MessageClassifying, MessageParsed, false},
		{MessageClassified, MessageParsing, true},
		{MessageClassified, MessageParsed, false},
		{MessageParsing, MessageParsed, true},
		{MessageParsing, MessageManualReview, true},
		{MessageParsing, MessageFailed, true},
		{MessageParsing, MessageClassified, false},
		{MessageManualReview, MessageParsed, true},
		{MessageManualReview, MessageDismissed, true},
		{MessageManualReview, MessageClassifying, false},
		// Terminal states have no automatic forward edges.
		{MessageParsed, MessageFailed, false},
		{MessageFailed, MessageClassifying, false},
		{MessageDismissed, MessageParsed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanReprocess(t *testing.T) {
	tests := []struct {
		status MessageStatus
		want   bool
	}{
		{MessageFailed, true},
		{MessageManualReview, true},
		{MessageDismissed, true},
		{MessageParsed, true},
		{MessagePending, false},
		{MessageClassifying, false},
		{MessageClassified, false},
		{MessageParsing, false},
	}
	for _, tt := range tests {
		if got := tt.status.CanReprocess(); got != tt.want {
			t.Errorf("CanReprocess(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []MessageStatus{MessageParsed, MessageFailed, MessageManualReview, MessageDismissed}
	active := []MessageStatus{MessagePending, MessageClassifying, MessageClassified, MessageParsing}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMessageTypeFamilies(t *testing.T) {
	for _, mt := range AllMessageTypes {
		fam := mt.Family()
		if mt == TypePromotional {
			if fam != FamilyNone {
				t.Errorf("promotional family = %s, want none", fam)
			}
			continue
		}
		if fam == FamilyNone {
			t.Errorf("%s has no parser family", mt)
		}
	}
}

func TestValidMessageType(t *testing.T) {
	if !ValidMessageType("order_confirmation") {
		t.Error("order_confirmation should be valid")
	}
	if ValidMessageType("weather_report") {
		t.Error("weather_report should not be valid")
	}
}
