package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"ordersight/core/port/out"
)

func TestParsePayload(t *testing.T) {
	tenant := uuid.New()
	msg := NewMessage(JobProcessMessage, map[string]any{
		"tenant_id":          tenant.String(),
		"inbound_message_id": 42,
	})

	job, err := ParsePayload[out.ProcessMessageJob](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if job.TenantID != tenant {
		t.Errorf("tenant = %s, want %s", job.TenantID, tenant)
	}
	if job.InboundMessageID != 42 {
		t.Errorf("message id = %d, want 42", job.InboundMessageID)
	}
}

func TestParsePayloadBadTenant(t *testing.T) {
	msg := NewMessage(JobProcessMessage, map[string]any{
		"tenant_id":          "not-a-uuid",
		"inbound_message_id": 1,
	})

	if _, err := ParsePayload[out.ProcessMessageJob](msg); err == nil {
		t.Fatal("expected error for malformed tenant id")
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(JobProcessMessage, nil)
	if msg.ID == "" {
		t.Error("expected generated id")
	}
	if msg.IsPriority() {
		t.Error("normal message reported as priority")
	}

	pri := NewPriorityMessage(JobProcessMessage, nil, PriorityHigh)
	if !pri.IsPriority() {
		t.Error("priority message not reported as priority")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d denied under the limit", i)
		}
	}
	if rl.Allow() {
		t.Error("request allowed past the token limit")
	}
}
