package gateway

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeFrame_roundTrips(t *testing.T) {
	t.Parallel()
	raw, err := encodeFrame(EventJoinedRoom, joinedRoomPayload{RoomID: uuid.New()})
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Name != EventJoinedRoom {
		t.Fatalf("f.Name = %q, want %q", f.Name, EventJoinedRoom)
	}
	if len(f.Data) == 0 {
		t.Fatal("f.Data is empty, want the marshaled payload")
	}
}

func TestEncodeError_producesErrorFrame(t *testing.T) {
	t.Parallel()
	raw := encodeError("not_member", "not a member of this room")

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Name != EventError {
		t.Fatalf("f.Name = %q, want %q", f.Name, EventError)
	}
	var payload errorPayload
	if err := json.Unmarshal(f.Data, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != "not_member" {
		t.Fatalf("payload.Code = %q, want %q", payload.Code, "not_member")
	}
}
