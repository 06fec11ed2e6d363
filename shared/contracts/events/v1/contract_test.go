package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	good, err := New(TypeSessionRevoked, "01J00000000000000000000000", now, SessionRevokedPayload{Reason: "logout_all"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var p SessionRevokedPayload
	if err := good.Decode(&p); err != nil || p.Reason != "logout_all" || p.SessionID != "" {
		t.Fatalf("Decode = %+v, %v", p, err)
	}

	tests := map[string]func(*Envelope){
		"version": func(e *Envelope) { e.V = 2 },
		"type":    func(e *Envelope) { e.Type = "" },
		"unknown": func(e *Envelope) { e.Type = "message.send" },
		"id":      func(e *Envelope) { e.ID = "" },
		"ts":      func(e *Envelope) { e.TS = time.Time{} },
		"payload": func(e *Envelope) { e.Payload = nil },
	}
	for name, mutate := range tests {
		e := good
		mutate(&e)
		if err := e.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
