package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode_Valid(t *testing.T) {
	raw := []byte(`{"type":"STATUS_UPDATE","payload":{"status":"online"},"timestamp":1724500000000,"correlationId":"abc-1"}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeStatusUpdate {
		t.Errorf("Expected type %s, got %s", TypeStatusUpdate, env.Type)
	}
	if env.CorrelationID != "abc-1" {
		t.Errorf("Expected correlationId abc-1, got %s", env.CorrelationID)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not-json`},
		{"missing type", `{"payload":{},"timestamp":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Error("Expected error for invalid envelope")
			}
		})
	}
}

func TestBind_UnknownFieldsTolerated(t *testing.T) {
	env, err := Decode([]byte(`{"type":"STATUS_UPDATE","payload":{"status":"idle","futureField":42},"timestamp":1}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var p StatusUpdatePayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind should tolerate unknown fields: %v", err)
	}
	if p.Status != StatusIdle {
		t.Errorf("Expected status idle, got %s", p.Status)
	}
}

func TestBind_EmptyPayload(t *testing.T) {
	env := &Envelope{Type: TypeStatusUpdate, Timestamp: 1}

	var p StatusUpdatePayload
	if err := env.Bind(&p); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestStatusUpdatePayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload StatusUpdatePayload
		wantErr bool
	}{
		{"online", StatusUpdatePayload{Status: StatusOnline}, false},
		{"dnd with activity", StatusUpdatePayload{Status: StatusDND, Activity: &Activity{Language: "go", File: "main.go"}}, false},
		{"unknown status", StatusUpdatePayload{Status: "sleeping"}, true},
		{"empty status", StatusUpdatePayload{}, true},
		{"negative duration", StatusUpdatePayload{Status: StatusOnline, Activity: &Activity{SessionDuration: -1}}, true},
		{"intensity out of range", StatusUpdatePayload{Status: StatusOnline, Activity: &Activity{Intensity: 101}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPokePayload_Validate(t *testing.T) {
	if err := (&PokePayload{ToUserID: 42}).Validate(); err != nil {
		t.Errorf("Expected valid poke, got %v", err)
	}
	if err := (&PokePayload{ToUserID: 0}).Validate(); err == nil {
		t.Error("Expected error for missing target")
	}
}

func TestIsInbound(t *testing.T) {
	inbound := []string{TypeHeartbeat, TypeStatusUpdate, TypePoke, TypeSubscribe, TypeUnsubscribe}
	for _, mt := range inbound {
		if !IsInbound(mt) {
			t.Errorf("Expected %s to be inbound", mt)
		}
	}

	outbound := []string{TypeConnected, TypeFriendStatus, TypePong, TypeError, "BOGUS"}
	for _, mt := range outbound {
		if IsInbound(mt) {
			t.Errorf("Expected %s to not be inbound", mt)
		}
	}
}

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeFriendStatus, &FriendStatusPayload{
		UserID:    7,
		Status:    StatusOnline,
		Activity:  &Activity{Language: "go"},
		UpdatedAt: 1724500000000,
	})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.Timestamp == 0 {
		t.Error("Expected timestamp to be set")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var p FriendStatusPayload
	if err := json.Unmarshal(decoded.Payload, &p); err != nil {
		t.Fatalf("Unmarshal payload failed: %v", err)
	}
	if p.UserID != 7 || p.Status != StatusOnline || p.Activity == nil || p.Activity.Language != "go" {
		t.Errorf("Round trip mismatch: %+v", p)
	}
}
