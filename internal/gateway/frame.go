package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire-format structure for every event channel message in both directions: a name and an opaque JSON
// data payload. Unlike the teacher's opcode envelope, there is no separate control-frame op; heartbeats ride the
// WebSocket ping/pong control frames instead (see Client.readPump).
type Frame struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event names, the §4.G catalog.
const (
	eventSubscribeRooms = "subscribe_rooms"
	eventJoinRoom       = "join_room"
	eventLeaveRoom      = "leave_room"
	eventSendMessage    = "send_message"
	eventMessageRead    = "message_read"
	eventTyping         = "typing"
	eventEditMessage    = "edit_message"
	eventDeleteMessage  = "delete_message"
	eventPinUpdated     = "pin_updated"
	eventReactionUpdate = "reaction_updated"
	eventPollUpdated    = "poll_updated"
	eventPollCreated    = "poll_created"
	eventAdminUpdated   = "admin_updated"
	eventProfileUpdated = "profile_updated"
)

// Outbound event names.
const (
	EventNewMessage         = "new_message"
	EventMessageEdited      = "message_edited"
	EventMessageDeleted     = "message_deleted"
	EventUserStatus         = "user_status"
	EventUserTyping         = "user_typing"
	EventReadUpdated        = "read_updated"
	EventRoomNameUpdated    = "room_name_updated"
	EventRoomMembersUpdated = "room_members_updated"
	EventUserProfileUpdated = "user_profile_updated"
	EventPinUpdated         = "pin_updated"
	EventPollUpdated        = "poll_updated"
	EventPollCreated        = "poll_created"
	EventReactionUpdated    = "reaction_updated"
	EventAdminUpdated       = "admin_updated"
	EventJoinedRoom         = "joined_room"
	EventError              = "error"
)

// encodeFrame marshals data and wraps it in a named Frame, ready to enqueue on a client's send channel.
func encodeFrame(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(Frame{Name: name, Data: raw})
}

// errorPayload is the data carried by an `error` outbound frame.
type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// encodeError builds an `error` frame with a generic, user-visible message. Callers log the technical detail
// themselves; this never leaks internal error text to the client.
func encodeError(code, message string) []byte {
	frame, err := encodeFrame(EventError, errorPayload{Message: message, Code: code})
	if err != nil {
		// errorPayload always marshals; this branch exists only to satisfy the error return.
		return []byte(`{"name":"error","data":{"message":"internal error"}}`)
	}
	return frame
}
